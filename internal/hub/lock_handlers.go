package hub

import (
	"net/http"
	"strings"
	"time"

	"github.com/dotcommander/hive/internal/models"
)

type lockRequest struct {
	AgentID      string `json:"agentId"`
	ResourceType string `json:"resourceType"`
	Reason       string `json:"reason"`
	TTLMs        int64  `json:"ttlMs"`
}

type unlockRequest struct {
	AgentID string `json:"agentId"`
	Force   bool   `json:"force"`
}

// handleLock serves /lock/{resourcePath}/{op}. The resource path sits
// between the /lock/ prefix and the final operation segment and may
// itself contain slashes; the leading slash is restored, so
// "POST /lock/src/foo/lock" addresses resource "/src/foo".
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/lock/")
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		respondError(w, &models.ValidationError{Field: "path", Reason: "expected /lock/{resourcePath}/{op}"})
		return
	}
	resource, op := rest[:idx], rest[idx+1:]
	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
	}

	method, ok := lockOpMethods[op]
	if !ok {
		respondError(w, &models.NotFoundError{Entity: "lock operation", ID: op})
		return
	}
	if r.Method != method {
		w.Header().Set("Allow", method)
		respond(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}

	l, err := s.locks.Get(resource)
	if err != nil {
		respondError(w, err)
		return
	}

	switch op {
	case "check":
		status, err := l.Check()
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, status)
	case "history":
		entries, err := l.History(queryInt(r, "limit"))
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, entries)
	case "lock":
		var req lockRequest
		if err := decode(r, &req); err != nil {
			respondError(w, err)
			return
		}
		rec, err := l.Acquire(req.AgentID, req.ResourceType, req.Reason, time.Duration(req.TTLMs)*time.Millisecond)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusCreated, rec)
	case "unlock":
		var req unlockRequest
		if err := decode(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if err := l.Release(req.AgentID, req.Force); err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, okBody)
	}
}

var lockOpMethods = map[string]string{
	"check":   http.MethodGet,
	"history": http.MethodGet,
	"lock":    http.MethodPost,
	"unlock":  http.MethodPost,
}
