package hub

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dotcommander/hive/internal/coordinator"
	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/pkg/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second

	// Inbound frame budget per connection. Agents that flood past the
	// burst get frames dropped, not the connection closed.
	wsInboundRate  = rate.Limit(20)
	wsInboundBurst = 40
)

// wsClient serializes writes to one websocket connection so broadcast
// fan-out and direct replies never interleave mid-frame. The id ties
// log lines from one connection together across reconnects of the same
// agent.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{id: uuid.NewString(), conn: conn}
}

// send implements bus.Handler: a failed write marks this subscriber dead.
func (c *wsClient) send(frame protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(frame)
}

// welcomePayload is the first frame on a coordinator push connection.
type welcomePayload struct {
	AgentID      string   `json:"agentId"`
	ActiveAgents []string `json:"activeAgents"`
}

// handleCoordinatorWS upgrades the connection, marks the agent active,
// sends the welcome frame, and subscribes the connection to the
// coordinator broadcaster. A second connection with the same agentId
// replaces the first; the orphaned one is dropped on its next failed
// send and must not mark the agent offline on exit.
func (s *Server) handleCoordinatorWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		respondError(w, &models.ValidationError{Field: "agentId"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "agent", agentID, "error", err)
		return
	}
	client := newWSClient(conn)

	active := models.AgentStatusActive
	if _, err := s.coord.UpsertAgent(agentID, coordinator.AgentUpdate{Status: &active}); err != nil {
		slog.Warn("ws agent register failed", "agent", agentID, "error", err)
		conn.Close()
		return
	}

	// Subscribe before the welcome frame: a client that has read the
	// welcome is guaranteed to receive every broadcast after it.
	token := s.coord.Events().Subscribe(agentID, client.send)
	if err := client.send(protocol.NewFrame(protocol.FrameWelcome, s.welcome(agentID))); err != nil {
		s.coord.Events().Unsubscribe(agentID, token)
		conn.Close()
		return
	}

	slog.Debug("ws connected", "agent", agentID, "conn", client.id)
	s.readCoordinatorFrames(client, agentID)
	slog.Debug("ws disconnected", "agent", agentID, "conn", client.id)

	conn.Close()
	if s.coord.Events().Unsubscribe(agentID, token) {
		if err := s.coord.MarkOffline(agentID); err != nil {
			slog.Warn("ws offline mark failed", "agent", agentID, "error", err)
		}
	}
}

func (s *Server) welcome(agentID string) welcomePayload {
	payload := welcomePayload{AgentID: agentID, ActiveAgents: []string{}}
	online, err := s.coord.ListAgents(true)
	if err != nil {
		slog.Warn("ws roster load failed", "agent", agentID, "error", err)
		return payload
	}
	for _, a := range online {
		payload.ActiveAgents = append(payload.ActiveAgents, a.ID)
	}
	return payload
}

// readCoordinatorFrames pumps inbound frames until the connection
// drops. ping refreshes presence and answers pong; chat and
// agent-update apply to the coordinator and fan back out through its
// broadcaster.
func (s *Server) readCoordinatorFrames(client *wsClient, agentID string) {
	limiter := rate.NewLimiter(wsInboundRate, wsInboundBurst)
	for {
		var frame protocol.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			return
		}
		if !limiter.Allow() {
			slog.Debug("ws inbound frame dropped", "agent", agentID, "conn", client.id, "type", frame.Type)
			continue
		}

		switch frame.Type {
		case protocol.FramePing:
			if err := s.coord.TouchAgent(agentID); err != nil {
				slog.Warn("ws presence refresh failed", "agent", agentID, "error", err)
			}
			if err := client.send(protocol.NewFrame(protocol.FramePong, nil)); err != nil {
				return
			}
		case protocol.FrameChat:
			var msg struct {
				Message string `json:"message"`
			}
			if err := frame.Decode(&msg); err != nil || msg.Message == "" {
				continue
			}
			if _, err := s.coord.AppendChat(agentID, models.AuthorAgent, msg.Message); err != nil {
				slog.Warn("ws chat append failed", "agent", agentID, "error", err)
			}
		case protocol.FrameAgentUpdate:
			var upd coordinator.AgentUpdate
			if err := frame.Decode(&upd); err != nil {
				continue
			}
			if _, err := s.coord.UpsertAgent(agentID, upd); err != nil {
				slog.Warn("ws agent update failed", "agent", agentID, "error", err)
			}
		default:
			slog.Debug("ws unknown inbound frame", "agent", agentID, "type", frame.Type)
		}
	}
}

// handleAgentWS is the per-agent push channel: a state-sync snapshot on
// open, then escalation/message events from that agent's broadcaster.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	agentID := state.AgentID()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "agent", agentID, "error", err)
		return
	}
	client := newWSClient(conn)

	token := state.Events().Subscribe(agentID, client.send)
	if summary, err := state.GetState(); err != nil {
		slog.Warn("ws state snapshot failed", "agent", agentID, "error", err)
	} else if err := client.send(protocol.NewFrame(protocol.FrameStateSync, summary)); err != nil {
		state.Events().Unsubscribe(agentID, token)
		conn.Close()
		return
	}

	limiter := rate.NewLimiter(wsInboundRate, wsInboundBurst)
	for {
		var frame protocol.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			break
		}
		if !limiter.Allow() {
			continue
		}
		if frame.Type == protocol.FramePing {
			if err := client.send(protocol.NewFrame(protocol.FramePong, nil)); err != nil {
				break
			}
		}
	}

	conn.Close()
	state.Events().Unsubscribe(agentID, token)
}
