// Package protocol defines the framed JSON messages exchanged on the
// coordination hub's push channel. Both the server and agent clients
// import it; it has no dependencies on the hub internals.
package protocol

import "encoding/json"

// Frame types pushed from server to client.
const (
	FrameWelcome     = "welcome"
	FramePong        = "pong"
	FrameChat        = "chat"
	FrameAgentUpdate = "agent-update"
	FrameTaskUpdate  = "task-update"
	FrameStateSync   = "state-sync"
)

// Frame types accepted from client to server.
const (
	FramePing = "ping"
	// FrameChat and FrameAgentUpdate are bidirectional.
)

// Task-update actions carried in the payload's "action" field.
const (
	ActionTaskCreated     = "task-created"
	ActionTaskUpdated     = "task-updated"
	ActionHandoffCreated  = "handoff-created"
	ActionHandoffClaimed  = "handoff-claimed"
	ActionHandoffComplete = "handoff-completed"
)

// Frame is one framed JSON message on the push channel.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame, marshaling the payload. A payload that fails
// to marshal yields a frame with no payload; push delivery is
// best-effort and must never abort the owning mutation.
func NewFrame(frameType string, payload any) Frame {
	f := Frame{Type: frameType}
	if payload == nil {
		return f
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return f
	}
	f.Payload = b
	return f
}

// Decode unmarshals the frame payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
