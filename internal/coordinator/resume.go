package coordinator

import (
	"sort"
	"strings"
	"time"

	"github.com/dotcommander/hive/internal/app"
	"github.com/dotcommander/hive/internal/models"
)

const (
	resumeChatWindow  = 100
	resumeMaxShipped  = 10
	resumeMaxHandoffs = 5
	resumeMaxTasks    = 5
	resumeMaxClaims   = 10
)

// Participant summarizes one author's activity in the resume window.
type Participant struct {
	Author      string            `json:"author"`
	AuthorType  models.AuthorType `json:"authorType"`
	Messages    int               `json:"messages"`
	LastMessage string            `json:"lastMessage"`
	LastAt      time.Time         `json:"lastAt"`
}

// QuickAction is one suggested follow-up request.
type QuickAction struct {
	Label  string `json:"label"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// ResumeBundle is the catch-up digest of the recent session.
type ResumeBundle struct {
	GeneratedAt       time.Time        `json:"generatedAt"`
	SessionDurationMs int64            `json:"sessionDurationMs"`
	ChatMessages      int              `json:"chatMessages"`
	Participants      []Participant    `json:"participants"`
	Accomplishments   []string         `json:"accomplishments"`
	PendingHandoffs   []models.Handoff `json:"pendingHandoffs"`
	InProgressTasks   []models.Task    `json:"inProgressTasks"`
	ActiveClaims      []models.Claim   `json:"activeClaims"`
	QuickActions      []QuickAction    `json:"quickActions"`
}

// SessionResume digests the last 100 chat messages plus the open work
// surface into a single catch-up bundle.
func (c *Coordinator) SessionResume() (*ResumeBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chat, err := c.tailChat(resumeChatWindow)
	if err != nil {
		return nil, err
	}

	bundle := &ResumeBundle{
		GeneratedAt:     c.nowUTC(),
		ChatMessages:    len(chat),
		Participants:    participantsOf(chat),
		Accomplishments: accomplishmentsOf(chat, app.AccomplishmentKeywords()),
	}
	if len(chat) > 1 {
		bundle.SessionDurationMs = chat[len(chat)-1].Timestamp.Sub(chat[0].Timestamp).Milliseconds()
	}

	if bundle.PendingHandoffs, err = c.listHandoffs(models.HandoffPending, "", resumeMaxHandoffs); err != nil {
		return nil, err
	}
	if bundle.InProgressTasks, err = c.listTasks(TaskFilter{Status: models.TaskStatusInProgress}, resumeMaxTasks); err != nil {
		return nil, err
	}
	if bundle.ActiveClaims, err = c.listClaims(false, resumeMaxClaims); err != nil {
		return nil, err
	}

	bundle.QuickActions = quickActionsFor(bundle)
	return bundle, nil
}

// participantsOf aggregates per-author counts and last messages, most
// talkative first. System lines are bookkeeping, not participation.
func participantsOf(chat []models.ChatMessage) []Participant {
	byAuthor := map[string]*Participant{}
	order := []string{}
	for _, msg := range chat {
		if msg.AuthorType == models.AuthorSystem {
			continue
		}
		p, ok := byAuthor[msg.Author]
		if !ok {
			p = &Participant{Author: msg.Author, AuthorType: msg.AuthorType}
			byAuthor[msg.Author] = p
			order = append(order, msg.Author)
		}
		p.Messages++
		p.LastMessage = msg.Message
		p.LastAt = msg.Timestamp
	}

	out := make([]Participant, 0, len(order))
	for _, author := range order {
		out = append(out, *byAuthor[author])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Messages > out[j].Messages })
	return out
}

// accomplishmentsOf extracts shipped-result lines by keyword match: first
// line only, deduped, capped.
func accomplishmentsOf(chat []models.ChatMessage, keywords []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, msg := range chat {
		if !mentionsAny(msg.Message, keywords) {
			continue
		}
		line := msg.Message
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
		if len(out) == resumeMaxShipped {
			break
		}
	}
	return out
}

func mentionsAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// quickActionsFor proposes follow-ups conditional on what is open.
func quickActionsFor(bundle *ResumeBundle) []QuickAction {
	out := []QuickAction{}
	if len(bundle.PendingHandoffs) > 0 {
		out = append(out, QuickAction{
			Label:  "Claim a pending handoff",
			Method: "POST",
			Path:   "/coordinator/handoffs",
		})
	}
	if len(bundle.InProgressTasks) > 0 {
		out = append(out, QuickAction{
			Label:  "Review in-progress tasks",
			Method: "GET",
			Path:   "/coordinator/tasks?status=in-progress",
		})
	}
	if len(bundle.ActiveClaims) > 0 {
		out = append(out, QuickAction{
			Label:  "Inspect active claims",
			Method: "GET",
			Path:   "/coordinator/claims",
		})
	}
	out = append(out, QuickAction{
		Label:  "Catch up on chat",
		Method: "GET",
		Path:   "/coordinator/chat?limit=50",
	})
	return out
}
