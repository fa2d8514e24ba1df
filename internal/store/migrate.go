package store

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// goose configuration is process-global (SetBaseFS, SetDialect). The three
// singleton schemas each carry their own embedded FS, and instances open
// concurrently, so every goose call is serialized here.
var gooseMu sync.Mutex

// Migrate applies all pending migrations from fsys (expects a migrations/
// directory) to db.
func Migrate(db *sql.DB, fsys fs.FS) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())

	// goose uses "sqlite3" as its dialect name regardless of the underlying
	// driver; connections are opened through modernc.org/sqlite.
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the database's current goose migration version.
// A fresh database reports 0.
func MigrationVersion(db *sql.DB, fsys fs.FS) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, nil
	}
	return v, nil
}
