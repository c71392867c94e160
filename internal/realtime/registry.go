package realtime

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/metrics"
)

// Eviction reasons. They double as websocket close reasons and metric labels.
const (
	ReasonClientClosed = "client closed"
	ReasonReadFailed   = "read failed"
	ReasonWriteFailed  = "write failed"
	ReasonBufferFull   = "send buffer full"
	ReasonHeartbeat    = "heartbeat timeout"
	ReasonReplaced     = "replaced by new connection"
	ReasonShutdown     = "server shutting down"
	ReasonRequested    = "eviction requested"
)

const (
	defaultSendBuffer   = 32
	defaultWriteTimeout = 5 * time.Second
)

var (
	ErrConnectionNotFound = errors.New("realtime: connection not found")
	ErrInvalidBoard       = errors.New("realtime: invalid board id")
	ErrNilTransport       = errors.New("realtime: nil transport")
)

// Options configures a Registry. Zero values select defaults.
type Options struct {
	Clock        clockwork.Clock
	SendBuffer   int
	WriteTimeout time.Duration
}

// RegisterOptions carries the handshake parameters of a new connection.
type RegisterOptions struct {
	// ConnectionID lets a client keep its identity across reconnects.
	ConnectionID string
	DisplayName  string
	// BoardID pre-subscribes the connection when non-zero.
	BoardID int64
	// Announce queues the connected frame ahead of any fan-out traffic.
	Announce bool
}

// Registry is the table of live connections and the board subscription
// index derived from it. All mutations of either happen under mu.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	boards      map[int64]map[string]*Connection

	clock        clockwork.Clock
	sendBuffer   int
	writeTimeout time.Duration
	writers      sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &Registry{
		connections:  make(map[string]*Connection),
		boards:       make(map[int64]map[string]*Connection),
		clock:        opts.Clock,
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
	}
}

// Register stores a new connection and starts its writer. When opts names a
// connection id that is still live, the stale connection is evicted in the
// same critical section. Display names are not unique and never conflict.
func (r *Registry) Register(t Transport, opts RegisterOptions) (*Connection, error) {
	if t == nil {
		return nil, fmt.Errorf("realtime.Registry.Register: %w", ErrNilTransport)
	}
	if opts.BoardID < 0 {
		return nil, fmt.Errorf("realtime.Registry.Register: board %d: %w", opts.BoardID, ErrInvalidBoard)
	}

	id := opts.ConnectionID
	if id == "" {
		id = uuid.NewString()
	}
	name := opts.DisplayName
	if name == "" {
		name = guestName()
	}

	c := newConnection(id, name, t, r.clock.Now(), r.sendBuffer)
	if opts.Announce {
		var board *int64
		if opts.BoardID != 0 {
			board = &opts.BoardID
		}
		hello, err := EncodeConnected(ConnectedData{ConnectionID: id, DisplayName: name, BoardID: board})
		if err != nil {
			return nil, fmt.Errorf("realtime.Registry.Register: %w", err)
		}
		// The connection is not yet reachable, so the buffer is empty.
		c.send <- hello
	}

	r.mu.Lock()
	stale := r.connections[id]
	if stale != nil {
		r.removeLocked(stale)
	}
	r.connections[id] = c
	if opts.BoardID != 0 {
		r.subscribeLocked(c, opts.BoardID)
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	if stale != nil {
		stale.stop(ReasonReplaced)
		metrics.RealtimeEvictions.WithLabelValues(ReasonReplaced).Inc()
		log.Info().Str("connection_id", id).Msg("replaced stale connection")
	}

	r.writers.Add(1)
	go func() {
		defer r.writers.Done()
		c.writeLoop(r.clock, r.writeTimeout, r.onWriteError)
	}()

	log.Debug().
		Str("connection_id", id).
		Str("display_name", name).
		Int64("board_id", opts.BoardID).
		Msg("connection registered")

	return c, nil
}

// Touch records inbound activity. Unknown ids are ignored: the connection
// may already have been evicted by a concurrent sweep.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.connections[id]; ok {
		r.touchLocked(c)
	}
}

// TouchConnection is Touch bound to a specific socket. It is a no-op once c
// has been evicted or replaced by a newer connection reusing its id.
func (r *Registry) TouchConnection(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.connections[c.id]; ok && current == c {
		r.touchLocked(c)
	}
}

func (r *Registry) touchLocked(c *Connection) {
	c.lastActivity = r.clock.Now()
	c.missed = 0
	c.liveness = LivenessAlive
}

// Subscribe adds board to the connection's subscriptions. Repeated calls are no-ops.
func (r *Registry) Subscribe(id string, board int64) error {
	if board <= 0 {
		return fmt.Errorf("realtime.Registry.Subscribe: board %d: %w", board, ErrInvalidBoard)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return fmt.Errorf("realtime.Registry.Subscribe: %s: %w", id, ErrConnectionNotFound)
	}
	r.subscribeLocked(c, board)
	r.updateGaugesLocked()
	return nil
}

// Unsubscribe removes board from the connection's subscriptions. Removing a
// board that was never subscribed is a no-op.
func (r *Registry) Unsubscribe(id string, board int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return fmt.Errorf("realtime.Registry.Unsubscribe: %s: %w", id, ErrConnectionNotFound)
	}
	r.unsubscribeLocked(c, board)
	r.updateGaugesLocked()
	return nil
}

// Evict removes the connection and all of its subscriptions, then closes the
// transport. It reports whether anything was removed; evicting twice is a no-op.
func (r *Registry) Evict(id string, reason string) bool {
	r.mu.Lock()
	c, ok := r.connections[id]
	if ok {
		r.removeLocked(c)
		r.updateGaugesLocked()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.finishEviction(c, reason)
	return true
}

// EvictConnection is Evict keyed on the connection value, so a late failure
// on a replaced socket cannot remove its successor that reuses the id.
func (r *Registry) EvictConnection(c *Connection, reason string) bool {
	r.mu.Lock()
	current, ok := r.connections[c.id]
	ok = ok && current == c
	if ok {
		r.removeLocked(c)
		r.updateGaugesLocked()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.finishEviction(c, reason)
	return true
}

// Send enqueues a frame for one connection; a full buffer evicts it.
func (r *Registry) Send(c *Connection, frame []byte) error {
	err := c.enqueue(frame)
	if errors.Is(err, errSendBufferFull) {
		r.EvictConnection(c, ReasonBufferFull)
	}
	if err != nil {
		return fmt.Errorf("realtime.Registry.Send: %w", err)
	}
	return nil
}

// ConnectionsForBoard returns the ids subscribed to board, sorted.
func (r *Registry) ConnectionsForBoard(board int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.boards[board]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DropBoard removes every subscription to board and returns how many
// connections were subscribed.
func (r *Registry) DropBoard(board int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.boards[board]
	for _, c := range subs {
		delete(c.boards, board)
	}
	delete(r.boards, board)
	r.updateGaugesLocked()
	return len(subs)
}

// Snapshot returns a copy of the connection's metadata.
func (r *Registry) Snapshot(id string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return c.infoLocked(), true
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// BoardCount returns the number of boards with at least one subscriber.
func (r *Registry) BoardCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}

// Shutdown evicts every connection and waits for their writers to exit.
func (r *Registry) Shutdown(reason string) {
	r.mu.Lock()
	all := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		all = append(all, c)
	}
	clear(r.connections)
	clear(r.boards)
	r.updateGaugesLocked()
	r.mu.Unlock()

	for _, c := range all {
		r.finishEviction(c, reason)
	}
	r.writers.Wait()

	log.Info().Int("connections", len(all)).Str("reason", reason).Msg("registry shut down")
}

// targetsForBoard snapshots the subscribers of board.
func (r *Registry) targetsForBoard(board int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.boards[board]
	out := make([]*Connection, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// targetsAll snapshots every live connection.
func (r *Registry) targetsAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	return out
}

func (r *Registry) onWriteError(c *Connection, err error) {
	if r.EvictConnection(c, ReasonWriteFailed) {
		log.Debug().Err(err).Str("connection_id", c.id).Msg("write failed, connection evicted")
		return
	}
	log.Debug().Err(err).Str("connection_id", c.id).Msg("write after eviction dropped")
}

func (r *Registry) finishEviction(c *Connection, reason string) {
	c.stop(reason)
	metrics.RealtimeEvictions.WithLabelValues(reason).Inc()
	log.Debug().Str("connection_id", c.id).Str("reason", reason).Msg("connection evicted")
}

func (r *Registry) subscribeLocked(c *Connection, board int64) {
	c.boards[board] = struct{}{}
	subs, ok := r.boards[board]
	if !ok {
		subs = make(map[string]*Connection)
		r.boards[board] = subs
	}
	subs[c.id] = c
}

func (r *Registry) unsubscribeLocked(c *Connection, board int64) {
	delete(c.boards, board)
	subs, ok := r.boards[board]
	if !ok {
		return
	}
	if subs[c.id] == c {
		delete(subs, c.id)
	}
	if len(subs) == 0 {
		delete(r.boards, board)
	}
}

func (r *Registry) removeLocked(c *Connection) {
	for board := range c.boards {
		r.unsubscribeLocked(c, board)
	}
	delete(r.connections, c.id)
}

func (r *Registry) updateGaugesLocked() {
	metrics.RealtimeConnections.Set(float64(len(r.connections)))
	metrics.RealtimeBoards.Set(float64(len(r.boards)))
}

func guestName() string {
	return fmt.Sprintf("Guest-%04d", rand.IntN(10000)) //nolint:gosec // display name, not a secret
}
