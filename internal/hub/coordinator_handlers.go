package hub

import (
	"fmt"
	"net/http"

	"github.com/dotcommander/hive/internal/coordinator"
	"github.com/dotcommander/hive/internal/models"
)

// ---- agents ----

type agentUpsertRequest struct {
	AgentID string `json:"agentId"`
	coordinator.AgentUpdate
}

func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	agents, err := s.coord.ListAgents(queryBool(r, "online"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, agents)
}

func (s *Server) handleAgentsUpsert(w http.ResponseWriter, r *http.Request) {
	var req agentUpsertRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	agent, err := s.coord.UpsertAgent(req.AgentID, req.AgentUpdate)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, agent)
}

// ---- chat ----

type chatAppendRequest struct {
	Author     string            `json:"author"`
	AuthorType models.AuthorType `json:"authorType"`
	Message    string            `json:"message"`
}

func (s *Server) handleChatTail(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.coord.TailChat(queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, msgs)
}

func (s *Server) handleChatAppend(w http.ResponseWriter, r *http.Request) {
	var req chatAppendRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	msg, err := s.coord.AppendChat(req.Author, req.AuthorType, req.Message)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, msg)
}

// ---- tasks ----

// taskPostRequest is the tagged task mutation: an empty or "create"
// action creates from the embedded fields, the verb actions drive the
// state machine.
type taskPostRequest struct {
	Action  string `json:"action"`
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
	coordinator.TaskCreate
}

type taskPatchRequest struct {
	ID string `json:"id"`
	coordinator.TaskPatch
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		task, err := s.coord.GetTask(id)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, task)
		return
	}
	tasks, err := s.coord.ListTasks(coordinator.TaskFilter{
		Status:   models.TaskStatus(r.URL.Query().Get("status")),
		Assignee: r.URL.Query().Get("assignee"),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, tasks)
}

func (s *Server) handleTasksPost(w http.ResponseWriter, r *http.Request) {
	var req taskPostRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	var (
		task *models.Task
		err  error
	)
	status := http.StatusOK
	switch req.Action {
	case "", "create":
		task, err = s.coord.CreateTask(req.TaskCreate)
		status = http.StatusCreated
	case "pickup":
		task, err = s.coord.PickupTask(req.TaskID, req.AgentID)
	case "complete":
		task, err = s.coord.CompleteTask(req.TaskID, req.AgentID)
	case "block":
		task, err = s.coord.BlockTask(req.TaskID, req.AgentID, req.Reason)
	case "release":
		task, err = s.coord.ReleaseTask(req.TaskID, req.AgentID)
	default:
		err = &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, status, task)
}

func (s *Server) handleTasksPatch(w http.ResponseWriter, r *http.Request) {
	var req taskPatchRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	task, err := s.coord.PatchTask(req.ID, req.TaskPatch)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, task)
}

// ---- zones ----

type zonePostRequest struct {
	Action      string `json:"action"`
	ZoneID      string `json:"zoneId"`
	Path        string `json:"path"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
}

// zoneLookupResponse wraps the path query so "no owner" is an explicit
// null, not a 404.
type zoneLookupResponse struct {
	Zone *models.Zone `json:"zone"`
}

func (s *Server) handleZonesList(w http.ResponseWriter, r *http.Request) {
	if path := r.URL.Query().Get("path"); path != "" {
		zone, err := s.coord.ZoneForPath(path)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, zoneLookupResponse{Zone: zone})
		return
	}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		zones, err := s.coord.ZonesOwnedBy(owner)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, zones)
		return
	}
	zones, err := s.coord.ListZones()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, zones)
}

func (s *Server) handleZonesPost(w http.ResponseWriter, r *http.Request) {
	var req zonePostRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	switch req.Action {
	case "", "claim":
		zone, err := s.coord.ClaimZone(req.ZoneID, req.Path, req.Owner, req.Description)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusCreated, zone)
	case "release":
		if err := s.coord.ReleaseZone(req.ZoneID, req.Owner); err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, okBody)
	default:
		respondError(w, &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)})
	}
}

// ---- claims ----

type claimPostRequest struct {
	Action      string `json:"action"`
	What        string `json:"what"`
	By          string `json:"by"`
	Description string `json:"description"`
}

func (s *Server) handleClaimsList(w http.ResponseWriter, r *http.Request) {
	if what := r.URL.Query().Get("what"); what != "" {
		claim, err := s.coord.GetClaim(what)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, claim)
		return
	}
	claims, err := s.coord.ListClaims(queryBool(r, "includeStale"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, claims)
}

func (s *Server) handleClaimsPost(w http.ResponseWriter, r *http.Request) {
	var req claimPostRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	switch req.Action {
	case "", "claim":
		claim, err := s.coord.Claim(req.What, req.By, req.Description)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusCreated, claim)
	case "release":
		if err := s.coord.ReleaseClaim(req.What, req.By); err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, okBody)
	default:
		respondError(w, &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)})
	}
}

// ---- handoffs ----

type handoffPostRequest struct {
	Action  string `json:"action"`
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
	coordinator.HandoffCreate
}

func (s *Server) handleHandoffsList(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		h, err := s.coord.GetHandoff(id)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, h)
		return
	}
	if forAgent := r.URL.Query().Get("for"); forAgent != "" {
		handoffs, err := s.coord.PendingHandoffsFor(forAgent, queryInt(r, "limit"))
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, handoffs)
		return
	}
	handoffs, err := s.coord.ListHandoffs(models.HandoffStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, handoffs)
}

func (s *Server) handleHandoffsPost(w http.ResponseWriter, r *http.Request) {
	var req handoffPostRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	var (
		h   *models.Handoff
		err error
	)
	status := http.StatusOK
	switch req.Action {
	case "", "create":
		h, err = s.coord.CreateHandoff(req.HandoffCreate)
		status = http.StatusCreated
	case "claim":
		h, err = s.coord.ClaimHandoff(req.ID, req.AgentID)
	case "complete":
		h, err = s.coord.CompleteHandoff(req.ID, req.AgentID)
	default:
		err = &models.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, status, h)
}

// ---- aggregators ----

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.coord.GetWork(r.URL.Query().Get("agentId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, bundle)
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.coord.Onboard(r.URL.Query().Get("agentId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, bundle)
}

func (s *Server) handleSessionResume(w http.ResponseWriter, _ *http.Request) {
	bundle, err := s.coord.SessionResume()
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, bundle)
}
