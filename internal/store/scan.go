package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// NullString converts sql.NullString to string (empty if NULL).
func NullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTime converts sql.NullTime to *time.Time (nil if NULL).
func NullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time.UTC()
		return &t
	}
	return nil
}

// TimeArg converts *time.Time to a driver value (NULL if nil).
func TimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// StringArg converts an empty string to NULL.
func StringArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// MarshalStrings encodes a string slice as a JSON text column.
// Nil encodes as "[]" so scans never produce a null list.
func MarshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// UnmarshalStrings decodes a JSON text column into a string slice.
// NULL, empty, and malformed values decode to an empty slice.
func UnmarshalStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return []string{}
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw.String), &ss); err != nil {
		return []string{}
	}
	if ss == nil {
		return []string{}
	}
	return ss
}
