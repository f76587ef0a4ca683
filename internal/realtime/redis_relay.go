package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// envelope is the wire form of a relayed broadcast. Payload is carried as
// base64 so arbitrary frames survive the round trip byte for byte.
type envelope struct {
	Node    string `json:"node"`
	Payload []byte `json:"payload"`
}

// RedisRelay forwards broadcasts over Redis pub/sub, one channel per
// conversation (Prefix + conversation ID). Messages a node published itself
// are skipped on receipt since they were already delivered locally.
type RedisRelay struct {
	Client *redis.Client
	Prefix string
	Node   string
}

// NewRedisRelay parses a redis:// URL and returns a relay with a fresh node ID.
func NewRedisRelay(redisURL, prefix string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisRelay{Client: redis.NewClient(opts), Prefix: prefix, Node: uuid.NewString()}, nil
}

// Ping checks connectivity.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, conversationID string, payload []byte) error {
	b, err := json.Marshal(envelope{Node: r.Node, Payload: payload})
	if err != nil {
		return err
	}
	if err := r.Client.Publish(ctx, r.Prefix+conversationID, b).Err(); err != nil {
		return err
	}
	relayMessages.WithLabelValues("out").Inc()
	return nil
}

// Run implements Relay. It pattern-subscribes to every conversation channel.
func (r *RedisRelay) Run(ctx context.Context, deliver func(conversationID string, payload []byte)) error {
	sub := r.Client.PSubscribe(ctx, r.Prefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				relayMessages.WithLabelValues("error").Inc()
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("relay: bad envelope")
				continue
			}
			if env.Node == r.Node {
				continue
			}
			relayMessages.WithLabelValues("in").Inc()
			deliver(strings.TrimPrefix(msg.Channel, r.Prefix), env.Payload)
		}
	}
}

// Close implements Relay.
func (r *RedisRelay) Close() error { return r.Client.Close() }
