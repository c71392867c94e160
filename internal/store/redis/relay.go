package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/metrics"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 2 * time.Second
)

// Bus is the pub/sub surface the relay needs. *PubSub implements it.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Deliverer fans an event out to the connections of this instance.
type Deliverer interface {
	Deliver(ev domain.ChangeEvent) int
}

// RelayConfig configures a Relay. Zero values select defaults.
type RelayConfig struct {
	Channel        string
	QueueSize      int
	PublishTimeout time.Duration
}

// Relay publishes locally originated change events to Redis and delivers
// events published by other instances to local connections. Each instance
// tags its messages with a random origin id and ignores its own echoes.
type Relay struct {
	bus     Bus
	channel string
	origin  string
	timeout time.Duration
	queue   chan domain.ChangeEvent
	breaker *gobreaker.CircuitBreaker
}

type envelope struct {
	Origin string             `json:"origin"`
	Event  domain.ChangeEvent `json:"event"`
}

// inboundEnvelope keeps the payload as raw JSON so it is re-sent verbatim.
type inboundEnvelope struct {
	Origin string `json:"origin"`
	Event  struct {
		domain.ChangeEvent
		Payload json.RawMessage `json:"payload"`
	} `json:"event"`
}

// NewRelay creates a relay on top of bus.
func NewRelay(bus Bus, cfg RelayConfig) *Relay {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-relay",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &Relay{
		bus:     bus,
		channel: cfg.Channel,
		origin:  uuid.NewString(),
		timeout: cfg.PublishTimeout,
		queue:   make(chan domain.ChangeEvent, cfg.QueueSize),
		breaker: breaker,
	}
}

// Origin returns the instance id stamped on outgoing messages.
func (r *Relay) Origin() string { return r.origin }

// Forward queues ev for publication. It never blocks; when the queue is
// full the event is dropped and other instances miss it.
func (r *Relay) Forward(ev domain.ChangeEvent) {
	select {
	case r.queue <- ev:
	default:
		metrics.RelayMessages.WithLabelValues("out", "dropped").Inc()
		log.Warn().
			Str("event", string(ev.Kind)).
			Int64("board_id", ev.BoardID).
			Msg("relay queue full, event not forwarded")
	}
}

// Run publishes queued events and delivers remote ones until ctx ends.
func (r *Relay) Run(ctx context.Context, d Deliverer) error {
	messages, cleanup, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("redis.Relay.Run: %w", err)
	}
	defer cleanup()

	log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("redis relay started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.publishLoop(gctx) })
	g.Go(func() error { return r.receiveLoop(gctx, messages, d) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("redis.Relay.Run: %w", err)
	}
	return nil
}

func (r *Relay) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.queue:
			if err := r.publish(ctx, ev); err != nil {
				log.Warn().Err(err).
					Str("event", string(ev.Kind)).
					Int64("board_id", ev.BoardID).
					Msg("relay publish failed")
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		metrics.RelayMessages.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("redis.Relay.publish: marshal: %w", err)
	}

	_, err = r.breaker.Execute(func() (interface{}, error) {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return nil, r.bus.Publish(pctx, r.channel, payload)
	})
	if err != nil {
		metrics.RelayMessages.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("redis.Relay.publish: %w", err)
	}

	metrics.RelayMessages.WithLabelValues("out", "ok").Inc()
	return nil
}

func (r *Relay) receiveLoop(ctx context.Context, messages <-chan []byte, d Deliverer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("subscription closed")
			}
			r.handle(msg, d)
		}
	}
}

func (r *Relay) handle(msg []byte, d Deliverer) {
	var in inboundEnvelope
	if err := json.Unmarshal(msg, &in); err != nil {
		metrics.RelayMessages.WithLabelValues("in", "invalid").Inc()
		log.Warn().Err(err).Msg("relay: undecodable message")
		return
	}
	if in.Origin == r.origin {
		return
	}

	ev := in.Event.ChangeEvent
	if len(in.Event.Payload) > 0 && string(in.Event.Payload) != "null" {
		ev.Payload = in.Event.Payload
	}
	if !ev.Kind.Valid() || ev.BoardID <= 0 {
		metrics.RelayMessages.WithLabelValues("in", "invalid").Inc()
		log.Warn().Str("event", string(ev.Kind)).Int64("board_id", ev.BoardID).Msg("relay: invalid event")
		return
	}

	n := d.Deliver(ev)
	metrics.RelayMessages.WithLabelValues("in", "ok").Inc()
	log.Debug().
		Str("event", string(ev.Kind)).
		Int64("board_id", ev.BoardID).
		Str("origin", in.Origin).
		Int("delivered", n).
		Msg("relayed event delivered")
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
