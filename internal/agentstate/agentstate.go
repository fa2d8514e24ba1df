// Package agentstate implements the per-agent AgentState singleton:
// checkpoint, direct messages, memory, work traces with escalation
// detection, soul progression, the shadow takeover monitor, and the
// heartbeat log. One SQLite database per agent; all mutations are
// serialized by a single mutex, making every operation atomic from outside.
package agentstate

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dotcommander/hive/internal/app"
	"github.com/dotcommander/hive/internal/bus"
	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// AgentState is the singleton for one agent.
type AgentState struct {
	mu      sync.Mutex
	db      *sql.DB
	agentID string
	now     func() time.Time

	// events carries state-sync and per-agent push frames to this
	// agent's open connections.
	events *bus.Broadcaster
}

// Open initializes an AgentState singleton backed by the SQLite file at dbPath.
func Open(agentID, dbPath string) (*AgentState, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}
	db, err := store.Open(dbPath, RunMigrations)
	if err != nil {
		return nil, fmt.Errorf("open agent state %s: %w", agentID, err)
	}
	return &AgentState{
		db:      db,
		agentID: agentID,
		now:     time.Now,
		events:  bus.New(),
	}, nil
}

// AgentID returns the agent this state belongs to.
func (a *AgentState) AgentID() string { return a.agentID }

// Events returns this agent's push broadcaster.
func (a *AgentState) Events() *bus.Broadcaster { return a.events }

// Close closes the underlying database.
func (a *AgentState) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}

// Registry lazily opens AgentState singletons, one per agent id.
type Registry struct {
	mu      sync.Mutex
	dataDir string
	agents  map[string]*AgentState
}

// NewRegistry creates a registry storing agent databases under dataDir/agents.
func NewRegistry(dataDir string) *Registry {
	return &Registry{dataDir: dataDir, agents: make(map[string]*AgentState)}
}

// Get returns the AgentState singleton for agentID, opening it on first use.
func (r *Registry) Get(agentID string) (*AgentState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[agentID]; ok {
		return a, nil
	}
	a, err := Open(agentID, app.AgentDBPath(r.dataDir, agentID))
	if err != nil {
		return nil, err
	}
	r.agents[agentID] = a
	return a, nil
}

// Close closes every open AgentState. The last error wins.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, a := range r.agents {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.agents, id)
	}
	return firstErr
}
