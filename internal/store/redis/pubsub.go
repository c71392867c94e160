// Package redis carries change events between server instances over Redis
// pub/sub.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/metrics"
)

// DefaultChannel is the pub/sub channel shared by every instance.
const DefaultChannel = "boardsync:events"

const (
	defaultBufferSize          = 64
	defaultHealthCheckInterval = 30 * time.Second
)

// Options configures the Redis connection used by the relay.
type Options struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
	// BufferSize bounds the messages held between Redis and the relay.
	BufferSize int
}

// PubSub publishes raw payloads and streams subscriptions for the relay.
type PubSub struct {
	client     *redis.Client
	bufferSize int
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*PubSub, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("redis connected")
	return &PubSub{client: client, bufferSize: opts.BufferSize}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Subscribe streams payloads published on channel. The stream ends when ctx
// ends, the cleanup func is called or the subscription breaks; the relay
// treats a closed stream as fatal.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe %s: %w", channel, err)
	}

	messages := sub.Channel(
		redis.WithChannelSize(ps.bufferSize),
		redis.WithChannelHealthCheckInterval(defaultHealthCheckInterval),
	)
	out := make(chan []byte, ps.bufferSize)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					log.Warn().Str("channel", channel).Msg("redis subscription closed")
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					metrics.RelayMessages.WithLabelValues("in", "dropped").Inc()
					log.Warn().Str("channel", channel).Msg("relay inbound buffer full, message dropped")
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}
