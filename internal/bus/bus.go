// Package bus is the in-process publish/subscribe fabric behind the push
// channel. Each singleton that emits events owns one Broadcaster; the
// websocket layer subscribes connection handlers to it.
package bus

import (
	"log/slog"
	"sync"

	"github.com/dotcommander/hive/pkg/protocol"
)

// Handler delivers one frame to a subscriber. A non-nil error marks the
// subscriber dead; the broadcaster drops it and never retries.
type Handler func(protocol.Frame) error

type subscriber struct {
	agentID string
	gen     uint64
	handler Handler
}

// Broadcaster fans frames out to the current subscriber set. At most one
// subscription exists per agentID: a new Subscribe with the same id
// replaces the previous one, orphaning the old connection.
type Broadcaster struct {
	mu   sync.RWMutex
	gen  uint64
	subs map[string]*subscriber
}

// New creates an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

// Subscribe registers handler under agentID, replacing any previous
// subscription for the same agent. The returned token identifies this
// subscription for Unsubscribe.
func (b *Broadcaster) Subscribe(agentID string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	if _, ok := b.subs[agentID]; ok {
		slog.Debug("replacing push subscription", "agent", agentID)
	}
	b.subs[agentID] = &subscriber{agentID: agentID, gen: b.gen, handler: handler}
	return b.gen
}

// Unsubscribe removes the subscription identified by token. If the agent
// has since re-subscribed, the newer subscription is left intact.
func (b *Broadcaster) Unsubscribe(agentID string, token uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[agentID]
	if !ok || sub.gen != token {
		return false
	}
	delete(b.subs, agentID)
	return true
}

// Broadcast delivers frame to every current subscriber, best-effort.
// Subscribers whose handler fails are dropped.
func (b *Broadcaster) Broadcast(frame protocol.Frame) {
	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	var dead []*subscriber
	for _, sub := range snapshot {
		if err := sub.handler(frame); err != nil {
			slog.Debug("dropping push subscriber", "agent", sub.agentID, "error", err)
			dead = append(dead, sub)
		}
	}
	if len(dead) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range dead {
		if cur, ok := b.subs[sub.agentID]; ok && cur.gen == sub.gen {
			delete(b.subs, sub.agentID)
		}
	}
}

// Send delivers frame to a single subscriber. Returns false if the agent
// has no live subscription or the send failed (the subscriber is dropped).
func (b *Broadcaster) Send(agentID string, frame protocol.Frame) bool {
	b.mu.RLock()
	sub, ok := b.subs[agentID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if err := sub.handler(frame); err != nil {
		b.mu.Lock()
		if cur, live := b.subs[agentID]; live && cur.gen == sub.gen {
			delete(b.subs, agentID)
		}
		b.mu.Unlock()
		return false
	}
	return true
}

// Subscribers returns the agent ids with a live subscription.
func (b *Broadcaster) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	return ids
}
