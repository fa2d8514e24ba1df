package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// defaultBusyTimeoutMS is the SQLite busy_timeout in milliseconds.
// Override with HIVE_BUSY_TIMEOUT_MS for environments with high contention.
const defaultBusyTimeoutMS = 5000

// Open initializes a SQLite database at dbPath with WAL mode and runs the
// given schema's migrations. Every singleton instance (coordinator, one per
// agent, one per lock) gets its own file and its own connection.
func Open(dbPath string, migrate func(db *sql.DB) error) (*sql.DB, error) {
	if err := ensureDBDir(dbPath); err != nil {
		return nil, err
	}

	// modernc.org/sqlite is strict about DSNs. Use a file: URI with mode=rwc
	// so the database can be created/written consistently across platforms.
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection per singleton: the instance is a single-writer actor and
	// the operation mutex already serializes access, so pooling buys nothing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busyTimeout := defaultBusyTimeoutMS
	if v := os.Getenv("HIVE_BUSY_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			busyTimeout = parsed
		}
	}

	// Set SQLite pragmas for WAL mode and concurrent access.
	//
	// busy_timeout  — blocks writers up to N ms instead of failing immediately.
	// synchronous=NORMAL — skips fsync on every commit (WAL still provides
	//                      crash safety for committed txns).
	// journal_mode=WAL   — concurrent readers + one writer.
	pragmas := []string{
		// Set busy_timeout first so subsequent pragmas (including WAL) will wait on locks.
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}

	for _, pragma := range pragmas {
		if err := RetryWithBackoff(func() error {
			_, err := db.ExecContext(context.Background(), pragma)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if migrate != nil {
		if err := RetryWithBackoff(func() error { return migrateWithLock(db, dbPath, migrate) }); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// migrateWithLock runs migrations under a file lock to prevent concurrent
// migration races when two processes open the same instance. In-memory
// databases (tests) skip the lock.
func migrateWithLock(db *sql.DB, dbPath string, migrate func(db *sql.DB) error) error {
	if !strings.Contains(dbPath, ":memory:") {
		lockF, err := lockFile(dbPath)
		if err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		defer unlockFile(lockF)
	}
	return migrate(db)
}

func ensureDBDir(dbPath string) error {
	if strings.Contains(dbPath, ":memory:") {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(dbPath, "file:"))
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func normalizeSQLiteDSN(dbPath string) string {
	// Support an explicit file: DSN as-is.
	if strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}

	// Provide a predictable in-memory option when callers use the common token.
	if dbPath == ":memory:" {
		return "file::memory:?cache=shared"
	}

	// Default to a writeable file URI.
	// mode=rwc => read/write/create. Without this, some environments open read-only.
	return "file:" + dbPath + "?mode=rwc"
}
