package commands

import (
	"database/sql"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/app"
	"github.com/dotcommander/hive/internal/coordinator"
	"github.com/dotcommander/hive/internal/lock"
	"github.com/dotcommander/hive/internal/output"
	"github.com/dotcommander/hive/internal/store"
)

type migratedDB struct {
	Path    string `json:"path"`
	Version int64  `json:"version"`
}

// NewMigrateCmd creates the migrate command: applies pending migrations
// to every singleton database already present in the data dir. Databases
// are also migrated lazily on open; this exists for explicit upgrades.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to existing databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := app.DataDir()
			if err != nil {
				return cmdErr(err)
			}

			var migrated []migratedDB

			coordPath := app.CoordinatorDBPath(dataDir)
			v, err := migrateOne(coordPath, coordinator.RunMigrations, coordinator.SchemaVersion)
			if err != nil {
				return cmdErr(err)
			}
			migrated = append(migrated, migratedDB{Path: coordPath, Version: v})

			agentDBs, _ := filepath.Glob(filepath.Join(dataDir, "agents", "*.db"))
			for _, path := range agentDBs {
				v, err := migrateOne(path, agentstate.RunMigrations, agentstate.SchemaVersion)
				if err != nil {
					return cmdErr(err)
				}
				migrated = append(migrated, migratedDB{Path: path, Version: v})
			}

			lockDBs, _ := filepath.Glob(filepath.Join(dataDir, "locks", "*.db"))
			for _, path := range lockDBs {
				v, err := migrateOne(path, lock.RunMigrations, lock.SchemaVersion)
				if err != nil {
					return cmdErr(err)
				}
				migrated = append(migrated, migratedDB{Path: path, Version: v})
			}

			type resp struct {
				Migrated []migratedDB `json:"migrated"`
			}
			return output.PrintSuccess(resp{Migrated: migrated})
		},
	}
}

func migrateOne(path string, run func(*sql.DB) error, version func(*sql.DB) (int64, error)) (int64, error) {
	db, err := store.Open(path, run)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	return version(db)
}
