// Package lock implements the per-resource Lock singleton: a mutually
// exclusive TTL-bounded lock on a named resource with timer-driven
// automatic release and an append-only acquire/release history.
package lock

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// History entry actions and release reasons.
const (
	actionAcquired = "acquired"
	actionReleased = "released"

	ReasonExpired  = "expired"
	ReasonManual   = "manual"
	ReasonForced   = "forced"
	ReasonRelocked = "relocked"
)

// Lock is the singleton for one resource path. All operations are
// serialized by mu, making each atomic from outside. At most one expiry
// timer is pending at a time; re-locking reschedules it.
type Lock struct {
	mu           sync.Mutex
	db           *sql.DB
	resourcePath string
	timer        *time.Timer
	now          func() time.Time
}

// Status is the snapshot returned by Check.
type Status struct {
	ResourcePath string             `json:"resourcePath"`
	Locked       bool               `json:"locked"`
	Lock         *models.LockRecord `json:"lock,omitempty"`
	RemainingMs  int64              `json:"remainingMs,omitempty"`
}

// Open initializes a Lock singleton backed by the SQLite file at dbPath.
func Open(resourcePath, dbPath string) (*Lock, error) {
	if resourcePath == "" {
		return nil, &models.ValidationError{Field: "resourcePath"}
	}
	db, err := store.Open(dbPath, RunMigrations)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", resourcePath, err)
	}
	l := &Lock{db: db, resourcePath: resourcePath, now: time.Now}

	// A process restart loses the in-memory timer; re-arm it for any
	// still-held lock so expiry never depends on a reader showing up.
	if cur, err := l.currentLock(); err == nil && cur != nil {
		l.scheduleExpiry(cur.ExpiresAt)
	}
	return l, nil
}

// Close cancels the pending expiry timer and closes the database.
// Any held lock stays in storage; reopening re-arms its timer.
func (l *Lock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	return l.db.Close()
}

// Check reports the current lock state. An over-TTL lock is lazily
// released with reason "expired" before reporting, so readers never
// observe an expired lock as held.
func (l *Lock) Check() (*Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.currentLock()
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	if cur == nil {
		return &Status{ResourcePath: l.resourcePath, Locked: false}, nil
	}
	if cur.IsExpired(now) {
		if err := l.release(cur, cur.LockedBy, ReasonExpired); err != nil {
			return nil, err
		}
		return &Status{ResourcePath: l.resourcePath, Locked: false}, nil
	}
	return &Status{
		ResourcePath: l.resourcePath,
		Locked:       true,
		Lock:         cur,
		RemainingMs:  cur.RemainingMs(now),
	}, nil
}

// Acquire takes the lock for agentID with the given TTL (default 2h).
// A non-expired lock held by a different agent is a contention error;
// an expired one is released first. Re-acquiring by the current holder
// extends the TTL and reschedules the timer.
func (l *Lock) Acquire(agentID, resourceType, reason string, ttl time.Duration) (*models.LockRecord, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}
	if ttl <= 0 {
		ttl = models.DefaultLockTTL
	}
	if resourceType == "" {
		resourceType = "resource"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	cur, err := l.currentLock()
	if err != nil {
		return nil, err
	}
	if cur != nil {
		switch {
		case cur.IsExpired(now):
			if err := l.release(cur, cur.LockedBy, ReasonExpired); err != nil {
				return nil, err
			}
		case cur.LockedBy != agentID:
			return nil, &models.ContentionError{
				Entity:      "lock",
				ID:          l.resourcePath,
				Owner:       cur.LockedBy,
				RequestedBy: agentID,
			}
		default:
			// Same holder re-locks: fold the old grant into history.
			if err := l.release(cur, agentID, ReasonRelocked); err != nil {
				return nil, err
			}
		}
	}

	rec := &models.LockRecord{
		ResourcePath: l.resourcePath,
		ResourceType: resourceType,
		LockedBy:     agentID,
		Reason:       reason,
		LockedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}

	err = store.Transact(l.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO current_lock (id, resource_path, resource_type, locked_by, reason, locked_at, expires_at)
			VALUES (1, ?, ?, ?, ?, ?, ?)
		`, rec.ResourcePath, rec.ResourceType, rec.LockedBy, store.StringArg(rec.Reason), rec.LockedAt, rec.ExpiresAt); err != nil {
			return fmt.Errorf("insert current lock: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO lock_history (action, agent, reason, timestamp)
			VALUES (?, ?, ?, ?)
		`, actionAcquired, agentID, store.StringArg(reason), now); err != nil {
			return fmt.Errorf("append lock history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.scheduleExpiry(rec.ExpiresAt)
	return rec, nil
}

// Release frees the lock. Non-owners are rejected unless force is set.
// Releasing an unheld lock is a no-op.
func (l *Lock) Release(agentID string, force bool) error {
	if agentID == "" {
		return &models.ValidationError{Field: "agentId"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.currentLock()
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	reason := ReasonManual
	if cur.LockedBy != agentID {
		if !force {
			return &models.OwnershipError{
				Entity:      "lock",
				ID:          l.resourcePath,
				Owner:       cur.LockedBy,
				RequestedBy: agentID,
			}
		}
		reason = ReasonForced
	}
	if err := l.release(cur, agentID, reason); err != nil {
		return err
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	return nil
}

// History returns the most recent acquire/release entries, newest first.
func (l *Lock) History(limit int) ([]models.LockHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT id, action, agent, reason, timestamp
		FROM lock_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query lock history: %w", err)
	}
	defer rows.Close()

	var entries []models.LockHistoryEntry
	for rows.Next() {
		var e models.LockHistoryEntry
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.Agent, &reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan lock history: %w", err)
		}
		e.Reason = store.NullString(reason)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if entries == nil {
		entries = []models.LockHistoryEntry{}
	}
	return entries, rows.Err()
}

// expire is the timer callback. If a current lock is still held it is
// released with reason "expired"; firing after a manual release is a no-op.
func (l *Lock) expire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.currentLock()
	if err != nil {
		slog.Error("lock expiry read failed", "resource", l.resourcePath, "error", err)
		return
	}
	if cur == nil || !cur.IsExpired(l.now().UTC()) {
		return
	}
	if err := l.release(cur, cur.LockedBy, ReasonExpired); err != nil {
		slog.Error("lock expiry release failed", "resource", l.resourcePath, "error", err)
	}
}

// scheduleExpiry arms the single-shot expiry timer, replacing any pending
// one. The timer may fire at or after expiresAt, never earlier.
func (l *Lock) scheduleExpiry(expiresAt time.Time) {
	if l.timer != nil {
		l.timer.Stop()
	}
	delay := expiresAt.Sub(l.now())
	if delay < 0 {
		delay = 0
	}
	l.timer = time.AfterFunc(delay, l.expire)
}

// release deletes the current row and appends a history entry.
// Caller holds mu.
func (l *Lock) release(cur *models.LockRecord, agent, reason string) error {
	return store.Transact(l.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM current_lock WHERE id = 1`); err != nil {
			return fmt.Errorf("delete current lock: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO lock_history (action, agent, reason, timestamp)
			VALUES (?, ?, ?, ?)
		`, actionReleased, agent, reason, l.now().UTC()); err != nil {
			return fmt.Errorf("append lock history: %w", err)
		}
		return nil
	})
}

// currentLock loads the current row, nil when unheld. Caller holds mu.
func (l *Lock) currentLock() (*models.LockRecord, error) {
	row := l.db.QueryRow(`
		SELECT resource_path, resource_type, locked_by, reason, locked_at, expires_at
		FROM current_lock WHERE id = 1
	`)
	var rec models.LockRecord
	var reason sql.NullString
	err := row.Scan(&rec.ResourcePath, &rec.ResourceType, &rec.LockedBy, &reason, &rec.LockedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read current lock: %w", err)
	}
	rec.Reason = store.NullString(reason)
	rec.LockedAt = rec.LockedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}
