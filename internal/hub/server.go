// Package hub exposes the coordination singletons over HTTP and
// WebSocket. Routing is by URL prefix: /coordinator/... addresses the
// shared Coordinator, /agent/{agentId}/... that agent's own state,
// /lock/{resourcePath}/{op} that resource's lock. Every response is
// JSON; typed singleton errors map onto status codes in respond.go.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/coordinator"
	"github.com/dotcommander/hive/internal/lock"
)

const shutdownGrace = 5 * time.Second

// Server routes HTTP and push-channel traffic to the singletons. The
// singleton roots are owned by the caller; Server never closes them.
type Server struct {
	coord  *coordinator.Coordinator
	agents *agentstate.Registry
	locks  *lock.Registry

	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New wires a Server around the three singleton roots.
func New(coord *coordinator.Coordinator, agents *agentstate.Registry, locks *lock.Registry) *Server {
	s := &Server{
		coord:  coord,
		agents: agents,
		locks:  locks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Agents connect from anywhere; the agentId parameter is
			// the trust boundary, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.mux = s.buildMux()
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Coordinator singleton.
	mux.HandleFunc("GET /coordinator/agents", s.handleAgentsList)
	mux.HandleFunc("POST /coordinator/agents", s.handleAgentsUpsert)
	mux.HandleFunc("GET /coordinator/chat", s.handleChatTail)
	mux.HandleFunc("POST /coordinator/chat", s.handleChatAppend)
	mux.HandleFunc("GET /coordinator/tasks", s.handleTasksList)
	mux.HandleFunc("POST /coordinator/tasks", s.handleTasksPost)
	mux.HandleFunc("PATCH /coordinator/tasks", s.handleTasksPatch)
	mux.HandleFunc("GET /coordinator/zones", s.handleZonesList)
	mux.HandleFunc("POST /coordinator/zones", s.handleZonesPost)
	mux.HandleFunc("GET /coordinator/claims", s.handleClaimsList)
	mux.HandleFunc("POST /coordinator/claims", s.handleClaimsPost)
	mux.HandleFunc("GET /coordinator/handoffs", s.handleHandoffsList)
	mux.HandleFunc("POST /coordinator/handoffs", s.handleHandoffsPost)
	mux.HandleFunc("GET /coordinator/work", s.handleWork)
	mux.HandleFunc("GET /coordinator/onboard", s.handleOnboard)
	mux.HandleFunc("GET /coordinator/session-resume", s.handleSessionResume)
	mux.HandleFunc("GET /coordinator/ws", s.handleCoordinatorWS)

	// Per-agent AgentState singletons.
	mux.HandleFunc("GET /agent/{agentId}/checkpoint", s.handleCheckpointGet)
	mux.HandleFunc("POST /agent/{agentId}/checkpoint", s.handleCheckpointSave)
	mux.HandleFunc("GET /agent/{agentId}/messages", s.handleMessagesList)
	mux.HandleFunc("POST /agent/{agentId}/messages", s.handleMessagesAppend)
	mux.HandleFunc("PATCH /agent/{agentId}/messages", s.handleMessagesMarkRead)
	mux.HandleFunc("GET /agent/{agentId}/memory", s.handleMemorySearch)
	mux.HandleFunc("POST /agent/{agentId}/memory", s.handleMemoryAppend)
	mux.HandleFunc("GET /agent/{agentId}/state", s.handleStateGet)
	mux.HandleFunc("GET /agent/{agentId}/trace", s.handleTraceList)
	mux.HandleFunc("POST /agent/{agentId}/trace", s.handleTraceStart)
	mux.HandleFunc("GET /agent/{agentId}/trace/{sid}", s.handleTraceGet)
	mux.HandleFunc("POST /agent/{agentId}/trace/{sid}/step", s.handleTraceStep)
	mux.HandleFunc("POST /agent/{agentId}/trace/{sid}/complete", s.handleTraceComplete)
	mux.HandleFunc("POST /agent/{agentId}/trace/{sid}/resolve-escalation", s.handleResolveEscalation)
	mux.HandleFunc("GET /agent/{agentId}/trace/{sid}/escalations", s.handleEscalationsList)
	mux.HandleFunc("GET /agent/{agentId}/soul", s.handleSoulGet)
	mux.HandleFunc("POST /agent/{agentId}/soul", s.handleSoulPost)
	mux.HandleFunc("PATCH /agent/{agentId}/soul", s.handleSoulPatch)
	mux.HandleFunc("GET /agent/{agentId}/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /agent/{agentId}/heartbeat", s.handleHeartbeatList)
	mux.HandleFunc("POST /agent/{agentId}/heartbeat", s.handleHeartbeatRecord)
	mux.HandleFunc("GET /agent/{agentId}/shadow", s.handleShadowGet)
	mux.HandleFunc("POST /agent/{agentId}/shadow", s.handleShadowPost)
	mux.HandleFunc("GET /agent/{agentId}/ws", s.handleAgentWS)

	// Per-resource Lock singletons; the resource path embeds slashes, so
	// this is a plain prefix route parsed by hand.
	mux.HandleFunc("/lock/", s.handleLock)

	return mux
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return withCORS(s.mux) }

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests within the shutdown grace period.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("hub shutdown", "error", err)
		}
	}()

	slog.Info("hub listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("hub server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		Status        string `json:"status"`
		SchemaVersion int64  `json:"schemaVersion,omitempty"`
	}{Status: "ok"}
	if v, err := s.coord.Schema(); err == nil {
		body.SchemaVersion = v
	}
	respond(w, http.StatusOK, body)
}

// withCORS applies the permissive CORS policy: any origin, the methods
// the surface uses, preflight answered inline.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
