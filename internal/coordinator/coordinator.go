// Package coordinator implements the shared Coordinator singleton: the
// team-wide registry of agents, group chat, tasks, zones, claims, and
// handoffs, plus the onboarding and session-resume aggregators. One SQLite
// database for the whole deployment; all mutations are serialized by a
// single mutex, making every operation atomic from outside.
package coordinator

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/bus"
	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
	"github.com/dotcommander/hive/pkg/protocol"
)

// Coordinator is the single shared singleton.
type Coordinator struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time

	// events fans chat / agent-update / task-update frames out to every
	// open push connection.
	events *bus.Broadcaster

	// agents gives the onboarding aggregator access to per-agent
	// AgentState singletons (souls, checkpoints, dashboards, flow).
	agents *agentstate.Registry
}

// Open initializes the Coordinator backed by the SQLite file at dbPath.
// The agent registry may be nil; onboarding then omits per-agent bundles.
func Open(dbPath string, agents *agentstate.Registry) (*Coordinator, error) {
	db, err := store.Open(dbPath, RunMigrations)
	if err != nil {
		return nil, fmt.Errorf("open coordinator: %w", err)
	}
	return &Coordinator{
		db:     db,
		now:    time.Now,
		events: bus.New(),
		agents: agents,
	}, nil
}

// Events returns the coordinator's push broadcaster.
func (c *Coordinator) Events() *bus.Broadcaster { return c.events }

// Schema reports the applied migration version, for health reporting.
func (c *Coordinator) Schema() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SchemaVersion(c.db)
}

// Close closes the underlying database. The agent registry is owned by
// the caller and is not closed here.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

func (c *Coordinator) nowUTC() time.Time { return c.now().UTC() }

// taskEvent is the payload of task-update frames. Exactly one of Task or
// Handoff is set, depending on the action.
type taskEvent struct {
	Action  string          `json:"action"`
	Task    *models.Task    `json:"task,omitempty"`
	Handoff *models.Handoff `json:"handoff,omitempty"`
}

// broadcastTaskUpdate emits a task-update frame after the owning mutation
// has committed.
func (c *Coordinator) broadcastTaskUpdate(ev taskEvent) {
	c.events.Broadcast(protocol.NewFrame(protocol.FrameTaskUpdate, ev))
}
