package models

import "time"

// DefaultLockTTL is applied when a lock request carries no ttlMs.
const DefaultLockTTL = 2 * time.Hour

// LockRecord is the current holder of a resource lock.
type LockRecord struct {
	ResourcePath string    `json:"resourcePath"`
	ResourceType string    `json:"resourceType"`
	LockedBy     string    `json:"lockedBy"`
	Reason       string    `json:"reason,omitempty"`
	LockedAt     time.Time `json:"lockedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// IsExpired reports whether the lock's TTL has elapsed.
func (l *LockRecord) IsExpired(now time.Time) bool { return now.After(l.ExpiresAt) }

// RemainingMs returns milliseconds until expiry, never negative.
func (l *LockRecord) RemainingMs(now time.Time) int64 {
	remaining := l.ExpiresAt.Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LockHistoryEntry is one acquire or release in a lock's append-only history.
type LockHistoryEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // "acquired" or "released"
	Agent     string    `json:"agent"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
