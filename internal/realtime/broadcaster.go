package realtime

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/metrics"
)

const (
	scopeBoard  = "board"
	scopeGlobal = "global"
)

// Broadcaster fans change events out to live connections.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a broadcaster reading targets from registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Publish delivers ev to the connections subscribed to ev.BoardID and
// returns how many accepted it. The target set comes from the subscription
// index only; nothing is broadcast and then filtered.
func (b *Broadcaster) Publish(ev domain.ChangeEvent) int {
	return b.fanout(ev, b.registry.targetsForBoard(ev.BoardID), scopeBoard)
}

// PublishGlobal delivers ev to every live connection regardless of its
// subscriptions. It is reserved for events every client needs, such as a
// newly created board.
func (b *Broadcaster) PublishGlobal(ev domain.ChangeEvent) int {
	return b.fanout(ev, b.registry.targetsAll(), scopeGlobal)
}

func (b *Broadcaster) fanout(ev domain.ChangeEvent, targets []*Connection, scope string) int {
	metrics.EventsPublished.WithLabelValues(string(ev.Kind), scope).Inc()
	metrics.FanoutTargets.Observe(float64(len(targets)))

	if len(targets) == 0 {
		return 0
	}

	frame, err := EncodeChange(ev)
	if err != nil {
		log.Error().Err(err).
			Str("event", string(ev.Kind)).
			Int64("board_id", ev.BoardID).
			Msg("dropping unencodable change event")
		return 0
	}

	delivered := 0
	for _, c := range targets {
		err := c.enqueue(frame)
		switch {
		case err == nil:
			delivered++
			metrics.Deliveries.WithLabelValues("queued").Inc()
		case errors.Is(err, errConnectionClosed):
			// Evicted between the snapshot and now.
			metrics.Deliveries.WithLabelValues("closed").Inc()
		default:
			metrics.Deliveries.WithLabelValues("dropped").Inc()
			b.registry.EvictConnection(c, ReasonBufferFull)
			log.Warn().
				Str("connection_id", c.id).
				Str("event", string(ev.Kind)).
				Int64("board_id", ev.BoardID).
				Msg("slow connection evicted during fan-out")
		}
	}

	log.Debug().
		Str("event", string(ev.Kind)).
		Int64("board_id", ev.BoardID).
		Str("scope", scope).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("change event published")

	return delivered
}
