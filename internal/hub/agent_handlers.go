package hub

import (
	"fmt"
	"net/http"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/models"
)

// agentState resolves the AgentState singleton addressed by the URL,
// opening it on first contact.
func (s *Server) agentState(r *http.Request) (*agentstate.AgentState, error) {
	return s.agents.Get(r.PathValue("agentId"))
}

// ---- checkpoint ----

func (s *Server) handleCheckpointGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	cp, err := state.GetCheckpoint()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, cp)
}

func (s *Server) handleCheckpointSave(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var upd agentstate.CheckpointUpdate
	if err := decode(r, &upd); err != nil {
		respondError(w, err)
		return
	}
	cp, err := state.SaveCheckpoint(upd)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, cp)
}

// ---- direct messages ----

type messageAppendRequest struct {
	From    string `json:"from"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

func (s *Server) handleMessagesList(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	msgs, err := state.ListMessages(queryBool(r, "unread"), queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, msgs)
}

func (s *Server) handleMessagesAppend(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req messageAppendRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	msg, err := state.AppendMessage(req.From, req.Type, req.Message)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, msg)
}

func (s *Server) handleMessagesMarkRead(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req markReadRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	n, err := state.MarkMessagesRead(req.IDs)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, markReadResponse{Updated: n})
}

// ---- memory ----

type memoryAppendRequest struct {
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	entries, err := state.SearchMemory(r.URL.Query().Get("category"), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, entries)
}

func (s *Server) handleMemoryAppend(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req memoryAppendRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	entry, err := state.AppendMemory(req.Category, req.Content, req.Tags)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, entry)
}

// ---- state summary ----

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	summary, err := state.GetState()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, summary)
}

// ---- work traces ----

type traceStartRequest struct {
	Task      string `json:"task"`
	SessionID string `json:"sessionId"`
}

type resolveEscalationRequest struct {
	EscalationID  string `json:"escalationId"`
	ResolvedBy    string `json:"resolvedBy"`
	ResolverAgent string `json:"resolverAgent"`
	HelpfulHint   string `json:"helpfulHint"`
}

func (s *Server) handleTraceList(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	traces, err := state.ListTraces(queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, traces)
}

func (s *Server) handleTraceStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req traceStartRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	trace, err := state.StartTrace(req.Task, req.SessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, trace)
}

func (s *Server) handleTraceGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	trace, err := state.GetTrace(r.PathValue("sid"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, trace)
}

func (s *Server) handleTraceStep(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var in agentstate.StepInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	result, err := state.AddStep(r.PathValue("sid"), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, result)
}

func (s *Server) handleTraceComplete(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	trace, err := state.CompleteTrace(r.PathValue("sid"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, trace)
}

func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req resolveEscalationRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	escalations, err := state.ResolveEscalation(
		r.PathValue("sid"),
		req.EscalationID,
		models.EscalationResolver(req.ResolvedBy),
		req.ResolverAgent,
		req.HelpfulHint,
	)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, escalations)
}

func (s *Server) handleEscalationsList(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	escalations, err := state.ListEscalations(r.PathValue("sid"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, escalations)
}

// ---- soul ----

// soulPostRequest is the tagged soul mutation. An empty action creates
// the soul if missing (the onboarding path does the same implicitly).
type soulPostRequest struct {
	Action  string `json:"action"`
	TraceID string `json:"traceId"`
	Domain  string `json:"domain"`
	Amount  int    `json:"amount"`
	Name    string `json:"name"`
}

type soulPatchRequest struct {
	Name        *string `json:"name"`
	Personality *string `json:"personality"`
}

func (s *Server) handleSoulGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	soul, err := state.GetSoul()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, soul)
}

func (s *Server) handleSoulPost(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req soulPostRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	switch req.Action {
	case "", "create":
		soul, created, err := state.GetOrCreateSoul()
		if err != nil {
			respondError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		respond(w, status, soul)
	case "update-from-trace":
		upd, err := state.UpdateFromTrace(req.TraceID, req.Domain)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, upd)
	case "add-xp":
		upd, err := state.AddXP(req.Amount)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, upd)
	case "unlock-achievement":
		soul, err := state.UnlockAchievement(req.Name)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, soul)
	case "record-peer-help":
		soul, err := state.RecordPeerHelp()
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, soul)
	default:
		respondError(w, &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)})
	}
}

func (s *Server) handleSoulPatch(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req soulPatchRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	soul, err := state.UpdateSoulProfile(req.Name, req.Personality)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, soul)
}

// ---- dashboard ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	d, err := state.GetDashboard()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, d)
}

// ---- heartbeat and shadow ----

type heartbeatRequest struct {
	TokensUsed  int64  `json:"tokensUsed"`
	CurrentTask string `json:"currentTask"`
	Status      string `json:"status"`
}

type shadowPostRequest struct {
	Action              string `json:"action"`
	ShadowID            string `json:"shadowId"`
	PrimaryAgent        string `json:"primaryAgent"`
	StallThresholdMs    int64  `json:"stallThresholdMs"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

func (s *Server) handleHeartbeatList(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	beats, err := state.ListHeartbeats(queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, beats)
}

func (s *Server) handleHeartbeatRecord(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req heartbeatRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	beat, err := state.RecordHeartbeat(req.TokensUsed, req.CurrentTask, req.Status)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, beat)
}

func (s *Server) handleShadowGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	view, err := state.GetShadow()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, view)
}

func (s *Server) handleShadowPost(w http.ResponseWriter, r *http.Request) {
	state, err := s.agentState(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req shadowPostRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	switch req.Action {
	case "register":
		mon, err := state.RegisterShadow(req.ShadowID, req.StallThresholdMs, req.HeartbeatIntervalMs)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, mon)
	case "become-shadow":
		mon, err := state.BecomeShadow(req.PrimaryAgent)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, mon)
	case "takeover":
		mon, err := state.Takeover()
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, mon)
	default:
		respondError(w, &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)})
	}
}
