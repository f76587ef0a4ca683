// Package realtime implements per-conversation fan-out over websocket
// connections: the connection registry, the gateway that drives each
// connection's lifecycle, and optional cross-process relays.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Subscriber is one live connection registered against a conversation.
// Implementations must be comparable (pointer types) and Send must honor
// ctx cancellation.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
}

// Delivery summarizes one broadcast.
type Delivery struct {
	Delivered int
	Failed    int
}

// topic is the subscriber set of one conversation. Its mutex serializes
// membership changes with broadcasts, so a broadcast never observes a
// half-updated set and broadcasts for one conversation are delivered in
// issue order. A topic marked dead has been removed from the registry.
type topic struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
	dead bool
}

// Registry tracks which subscribers listen to which conversation. The zero
// value is not usable; call NewRegistry.
type Registry struct {
	mu     sync.Mutex
	topics map[string]*topic

	// SendTimeout bounds each per-subscriber send. Zero means no bound
	// beyond the caller's context.
	SendTimeout time.Duration
}

// NewRegistry returns an empty registry.
func NewRegistry(sendTimeout time.Duration) *Registry {
	return &Registry{topics: make(map[string]*topic), SendTimeout: sendTimeout}
}

// Register adds s to conversationID's set, creating it if absent.
// Registering the same pair twice keeps a single entry.
func (r *Registry) Register(s Subscriber, conversationID string) {
	for {
		r.mu.Lock()
		t := r.topics[conversationID]
		if t == nil {
			t = &topic{subs: make(map[Subscriber]struct{})}
			r.topics[conversationID] = t
			wsConversations.Set(float64(len(r.topics)))
		}
		r.mu.Unlock()

		t.mu.Lock()
		if t.dead {
			// Lost a race with the last Unregister; retry on a fresh topic.
			t.mu.Unlock()
			continue
		}
		t.subs[s] = struct{}{}
		t.mu.Unlock()
		return
	}
}

// Unregister removes s from conversationID's set and drops the set once it
// is empty. Unknown pairs are ignored.
func (r *Registry) Unregister(s Subscriber, conversationID string) {
	r.mu.Lock()
	t := r.topics[conversationID]
	r.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[s]; !ok {
		return
	}
	delete(t.subs, s)
	if len(t.subs) > 0 {
		return
	}
	t.dead = true
	r.mu.Lock()
	if r.topics[conversationID] == t {
		delete(r.topics, conversationID)
	}
	wsConversations.Set(float64(len(r.topics)))
	r.mu.Unlock()
}

// Broadcast sends payload to every subscriber of conversationID except
// exclude (which may be nil). Failures are isolated per subscriber: they
// are counted and logged, never returned, and never retried.
func (r *Registry) Broadcast(ctx context.Context, conversationID string, payload []byte, exclude Subscriber) Delivery {
	var d Delivery

	r.mu.Lock()
	t := r.topics[conversationID]
	r.mu.Unlock()
	if t == nil {
		return d
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		if exclude != nil && s == exclude {
			continue
		}
		if err := r.sendOne(ctx, s, payload); err != nil {
			d.Failed++
			wsDeliveries.WithLabelValues("failed").Inc()
			log.Debug().Err(err).
				Str("conversation_id", conversationID).
				Str("conn_id", s.ID()).
				Msg("broadcast delivery failed")
			continue
		}
		d.Delivered++
		wsDeliveries.WithLabelValues("delivered").Inc()
	}
	return d
}

func (r *Registry) sendOne(ctx context.Context, s Subscriber, payload []byte) error {
	if r.SendTimeout <= 0 {
		return s.Send(ctx, payload)
	}
	sctx, cancel := context.WithTimeout(ctx, r.SendTimeout)
	defer cancel()
	return s.Send(sctx, payload)
}

// Count returns the number of subscribers for conversationID.
func (r *Registry) Count(conversationID string) int {
	r.mu.Lock()
	t := r.topics[conversationID]
	r.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Conversations returns how many conversations currently have subscribers.
func (r *Registry) Conversations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}
