package realtime

import (
	"strings"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

// Relay forwards locally originated events to other server instances.
// Forward must not block.
type Relay interface {
	Forward(ev domain.ChangeEvent)
}

// Bridge turns committed mutations into change events. It is the only
// entry point the CRUD layer uses.
type Bridge struct {
	registry    *Registry
	broadcaster *Broadcaster
	clock       clockwork.Clock
	relay       atomic.Pointer[relayHolder]
}

type relayHolder struct{ r Relay }

// NewBridge creates a bridge publishing through broadcaster.
func NewBridge(registry *Registry, broadcaster *Broadcaster) *Bridge {
	return &Bridge{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       registry.clock,
	}
}

// SetRelay attaches a cross-instance relay. A nil relay detaches it.
func (b *Bridge) SetRelay(r Relay) {
	if r == nil {
		b.relay.Store(nil)
		return
	}
	b.relay.Store(&relayHolder{r: r})
}

// PublishChange is called after a mutation has been persisted. boardID must
// come from the stored entity. It never fails from the caller's point of
// view: invalid input and delivery problems are logged and absorbed.
func (b *Bridge) PublishChange(kind domain.ChangeKind, boardID, entityID int64, actor string, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("event", string(kind)).
				Int64("board_id", boardID).
				Msg("recovered panic while publishing change")
		}
	}()

	if !kind.Valid() {
		log.Warn().Str("event", string(kind)).Msg("dropping change with unknown kind")
		return
	}
	if boardID <= 0 {
		log.Warn().
			Str("event", string(kind)).
			Int64("board_id", boardID).
			Msg("dropping change without board id")
		return
	}

	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = domain.AnonymousActor
	}

	ev := domain.ChangeEvent{
		Kind:       kind,
		BoardID:    boardID,
		EntityID:   entityID,
		Actor:      actor,
		Payload:    payload,
		OccurredAt: b.clock.Now(),
	}

	b.Deliver(ev)

	if h := b.relay.Load(); h != nil {
		h.r.Forward(ev)
	}
}

// Deliver fans ev out to local connections only. The relay calls it for
// events received from other instances.
func (b *Bridge) Deliver(ev domain.ChangeEvent) int {
	if ev.Kind.Global() {
		return b.broadcaster.PublishGlobal(ev)
	}

	n := b.broadcaster.Publish(ev)
	if ev.Kind == domain.ChangeBoardDeleted {
		dropped := b.registry.DropBoard(ev.BoardID)
		log.Debug().
			Int64("board_id", ev.BoardID).
			Int("subscriptions", dropped).
			Msg("deleted board removed from subscription index")
	}
	return n
}
