package coordinator

import (
	"database/sql"
	"embed"

	"github.com/dotcommander/hive/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations applies all pending Coordinator-schema migrations.
func RunMigrations(db *sql.DB) error {
	return store.Migrate(db, embedMigrations)
}

// SchemaVersion returns the database's current Coordinator-schema migration version.
func SchemaVersion(db *sql.DB) (int64, error) {
	return store.MigrationVersion(db, embedMigrations)
}
