package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/metrics"
)

// Transport is the write side of one client socket. Implementations must
// allow Close to be called while no Write is in flight; the registry never
// writes concurrently to the same transport.
type Transport interface {
	Write(ctx context.Context, frame []byte) error
	Close(reason string) error
}

// Liveness is the heartbeat state of a connection.
type Liveness int

const (
	LivenessAlive Liveness = iota
	LivenessSuspect
	LivenessDead
)

func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessSuspect:
		return "suspect"
	case LivenessDead:
		return "dead"
	default:
		return "unknown"
	}
}

var (
	errConnectionClosed = errors.New("realtime: connection closed")
	errSendBufferFull   = errors.New("realtime: send buffer full")
)

// Connection is one live client session. Identity fields are immutable;
// everything under "guarded by Registry.mu" is only touched with the
// registry lock held.
type Connection struct {
	id          string
	displayName string
	connectedAt time.Time

	// guarded by Registry.mu
	lastActivity time.Time
	pingedAt     time.Time
	missed       int
	liveness     Liveness
	boards       map[int64]struct{}

	transport Transport
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	reason    string
}

// ConnectionInfo is a point-in-time copy of a connection's metadata.
type ConnectionInfo struct {
	ID             string
	DisplayName    string
	ConnectedAt    time.Time
	LastActivityAt time.Time
	Boards         []int64
	Liveness       Liveness
}

func newConnection(id, displayName string, t Transport, now time.Time, buffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:           id,
		displayName:  displayName,
		connectedAt:  now,
		lastActivity: now,
		boards:       make(map[int64]struct{}),
		transport:    t,
		send:         make(chan []byte, buffer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Connection) ID() string          { return c.id }
func (c *Connection) DisplayName() string { return c.displayName }

// Done is closed once the connection has been evicted.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// infoLocked must be called with Registry.mu held.
func (c *Connection) infoLocked() ConnectionInfo {
	boards := make([]int64, 0, len(c.boards))
	for b := range c.boards {
		boards = append(boards, b)
	}
	slices.Sort(boards)

	return ConnectionInfo{
		ID:             c.id,
		DisplayName:    c.displayName,
		ConnectedAt:    c.connectedAt,
		LastActivityAt: c.lastActivity,
		Boards:         boards,
		Liveness:       c.liveness,
	}
}

// enqueue hands frame to the writer without blocking.
func (c *Connection) enqueue(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return errConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// stop cancels the in-flight write and every pending one. The writer
// goroutine closes the transport once it observes the cancellation.
func (c *Connection) stop(reason string) {
	c.stopOnce.Do(func() {
		c.reason = reason
		c.cancel()
	})
}

// writeLoop is the only goroutine that writes to the transport.
func (c *Connection) writeLoop(clock clockwork.Clock, timeout time.Duration, onError func(*Connection, error)) {
	defer func() {
		if err := c.transport.Close(c.reason); err != nil {
			log.Debug().Err(err).Str("connection_id", c.id).Msg("transport close")
		}
	}()

	for {
		// Evicted connections drop whatever is still buffered.
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.send:
			start := clock.Now()
			ctx, cancel := context.WithTimeout(c.ctx, timeout)
			err := c.transport.Write(ctx, frame)
			cancel()
			if err != nil {
				onError(c, err)
				continue
			}
			metrics.WriteDuration.Observe(clock.Since(start).Seconds())
		}
	}
}
