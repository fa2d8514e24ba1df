package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dotcommander/hive/internal/models"
)

// errorBody is the JSON error envelope. AssignedTo surfaces the current
// owner on contention responses so a losing caller knows who won.
type errorBody struct {
	Error      string            `json:"error"`
	Details    map[string]string `json:"details,omitempty"`
	Message    string            `json:"message,omitempty"`
	AssignedTo string            `json:"assignedTo,omitempty"`
}

// statusBody acknowledges mutations that return no entity.
type statusBody struct {
	Status string `json:"status"`
}

var okBody = statusBody{Status: "ok"}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// respondError maps a singleton error onto its HTTP status. Typed errors
// carry their structured context in details; anything else is a storage
// or programming failure and stays a 500 with the message preserved.
func respondError(w http.ResponseWriter, err error) {
	var rec models.RecoverableError
	if !errors.As(err, &rec) {
		slog.Error("request failed", "error", err)
		respond(w, http.StatusInternalServerError, errorBody{
			Error:   "internal error",
			Message: err.Error(),
		})
		return
	}

	body := errorBody{Error: rec.Error(), Details: rec.Context()}
	status := http.StatusInternalServerError
	switch rec.ErrorCode() {
	case "VALIDATION":
		status = http.StatusBadRequest
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "OWNERSHIP":
		status = http.StatusForbidden
	case "STATE":
		status = http.StatusConflict
	case "CONTENTION":
		status = http.StatusConflict
		var contention *models.ContentionError
		if errors.As(err, &contention) {
			body.AssignedTo = contention.Owner
		}
	}
	respond(w, status, body)
}

// decode reads the JSON request body into v. A malformed or oversized
// body is a validation error, never a 500.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &models.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
