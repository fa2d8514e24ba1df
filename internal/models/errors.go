package models

import "fmt"

// RecoverableError is implemented by enriched errors that carry structured
// context. Both the singleton packages and the hub use this interface to map
// failures onto HTTP status codes without an import cycle.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
func (e *ValidationError) ErrorCode() string { return "VALIDATION" }
func (e *ValidationError) Context() map[string]string {
	return map[string]string{"field": e.Field, "reason": e.Reason}
}

// NotFoundError reports that an addressed entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Entity, e.ID) }
func (e *NotFoundError) ErrorCode() string { return "NOT_FOUND" }
func (e *NotFoundError) Context() map[string]string {
	return map[string]string{"entity": e.Entity, "id": e.ID}
}

// OwnershipError reports a mutation attempted by a non-owner.
type OwnershipError struct {
	Entity      string
	ID          string
	Owner       string
	RequestedBy string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s is owned by %s, not %s", e.Entity, e.ID, e.Owner, e.RequestedBy)
}
func (e *OwnershipError) ErrorCode() string { return "OWNERSHIP" }
func (e *OwnershipError) Context() map[string]string {
	return map[string]string{
		"entity":       e.Entity,
		"id":           e.ID,
		"owner":        e.Owner,
		"requested_by": e.RequestedBy,
	}
}

// StateError reports an operation that is illegal in the entity's current state.
type StateError struct {
	Entity string
	ID     string
	Status string
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %q", e.Action, e.Entity, e.ID, e.Status)
}
func (e *StateError) ErrorCode() string { return "STATE" }
func (e *StateError) Context() map[string]string {
	return map[string]string{
		"entity": e.Entity,
		"id":     e.ID,
		"status": e.Status,
		"action": e.Action,
	}
}

// ContentionError reports concurrent ownership: the entity is already held
// by another agent. The current owner is surfaced to the caller.
type ContentionError struct {
	Entity      string
	ID          string
	Owner       string
	RequestedBy string
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("%s %s already held by %s", e.Entity, e.ID, e.Owner)
}
func (e *ContentionError) ErrorCode() string { return "CONTENTION" }
func (e *ContentionError) Context() map[string]string {
	return map[string]string{
		"entity":       e.Entity,
		"id":           e.ID,
		"owner":        e.Owner,
		"requested_by": e.RequestedBy,
	}
}
