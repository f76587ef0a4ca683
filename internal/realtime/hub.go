package realtime

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Relay carries broadcasts between processes that serve the same
// conversations. Publish must not block on remote consumers.
type Relay interface {
	Publish(ctx context.Context, conversationID string, payload []byte) error
	// Run consumes remote broadcasts and hands them to deliver until ctx is
	// done or the relay is closed.
	Run(ctx context.Context, deliver func(conversationID string, payload []byte)) error
	Close() error
}

// NopRelay keeps fan-out process-local.
type NopRelay struct{}

func (NopRelay) Publish(context.Context, string, []byte) error { return nil }

func (NopRelay) Run(ctx context.Context, _ func(string, []byte)) error {
	<-ctx.Done()
	return nil
}

func (NopRelay) Close() error { return nil }

// Hub combines the local registry with a relay. Publish delivers locally
// first, then forwards to other processes.
type Hub struct {
	Registry *Registry
	Relay    Relay
}

// NewHub wires a registry to a relay; a nil relay means process-local only.
func NewHub(reg *Registry, relay Relay) *Hub {
	if relay == nil {
		relay = NopRelay{}
	}
	return &Hub{Registry: reg, Relay: relay}
}

// Publish fans payload out to local subscribers of conversationID except
// exclude, then hands it to the relay. Relay failures are logged only.
func (h *Hub) Publish(ctx context.Context, conversationID string, payload []byte, exclude Subscriber) Delivery {
	d := h.Registry.Broadcast(ctx, conversationID, payload, exclude)
	if err := h.Relay.Publish(ctx, conversationID, payload); err != nil {
		relayMessages.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("relay publish failed")
	}
	return d
}

// Run pumps remote broadcasts into the local registry until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.Relay.Run(ctx, func(conversationID string, payload []byte) {
		h.Registry.Broadcast(ctx, conversationID, payload, nil)
	})
}

// Close releases the relay.
func (h *Hub) Close() error { return h.Relay.Close() }
