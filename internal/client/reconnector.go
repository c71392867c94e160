package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/boardsync/internal/realtime"
)

const (
	defaultBaseDelay        = 500 * time.Millisecond
	defaultMaxDelay         = 30 * time.Second
	defaultFactor           = 2.0
	defaultMaxAttempts      = 10
	defaultPingInterval     = 20 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSyncTimeout      = 15 * time.Second
)

var (
	// ErrRetriesExhausted is returned by Run once MaxAttempts consecutive
	// connection attempts have failed. The reconnector is then in StateFailed.
	ErrRetriesExhausted = errors.New("client: reconnect attempts exhausted")
	ErrAlreadyStarted   = errors.New("client: reconnector already started")
	errNotConnected     = errors.New("first frame was not a connected frame")
)

// Config configures a Reconnector. Zero values select defaults.
type Config struct {
	// BaseURL is the server's http(s) or ws(s) base URL.
	BaseURL      string
	DisplayName  string
	ConnectionID string
	// Boards are subscribed on every connection. The first one travels in
	// the handshake, the rest through the HTTP subscription endpoint.
	Boards       []int64

	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Factor           float64
	MaxAttempts      int
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	// SyncTimeout bounds the subscribe and refresh calls made after the
	// handshake. A stall counts as a failed attempt.
	SyncTimeout      time.Duration

	Clock      clockwork.Clock
	Dialer     Dialer
	Subscriber Subscriber
	Refresher  Refresher

	OnEvent       func(frame realtime.ChangeFrame)
	OnStateChange func(from, to State)
}

// Reconnector keeps one realtime connection alive. A single Run loop owns
// every transition except the final move to closed requested by Close.
type Reconnector struct {
	cfg     Config
	backoff Backoff
	clock   clockwork.Clock
	machine *machine
	started atomic.Bool

	mu           sync.Mutex
	connectionID string
	cancel       context.CancelFunc
	closed       bool
}

// New validates cfg and returns a reconnector in StateConnecting.
func New(cfg Config) (*Reconnector, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("client.New: base url: %w", err)
	}
	if _, ok := wsScheme(u.Scheme); !ok || u.Host == "" {
		return nil, fmt.Errorf("client.New: base url %q must be http(s) or ws(s) with a host", cfg.BaseURL)
	}
	for _, b := range cfg.Boards {
		if b <= 0 {
			return nil, fmt.Errorf("client.New: invalid board id %d", b)
		}
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.Factor < 1 {
		cfg.Factor = defaultFactor
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	httpBase := httpBaseURL(u)
	if cfg.Subscriber == nil {
		cfg.Subscriber = HTTPSubscriber{BaseURL: httpBase}
	}
	if cfg.Refresher == nil {
		cfg.Refresher = HTTPRefresher{BaseURL: httpBase}
	}

	return &Reconnector{
		cfg:          cfg,
		backoff:      Backoff{Base: cfg.BaseDelay, Factor: cfg.Factor, Max: cfg.MaxDelay},
		clock:        cfg.Clock,
		machine:      &machine{state: StateConnecting, onChange: cfg.OnStateChange},
		connectionID: cfg.ConnectionID,
	}, nil
}

// State returns the current state.
func (r *Reconnector) State() State { return r.machine.current() }

// ConnectionID returns the id assigned by the server on the last successful
// handshake, or the configured one before that.
func (r *Reconnector) ConnectionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectionID
}

// Close stops the reconnector for good. It is safe to call more than once
// and from any goroutine.
func (r *Reconnector) Close() {
	r.mu.Lock()
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	_ = r.machine.transition(StateClosed)
}

// Run connects and keeps reconnecting until Close is called, ctx ends or
// MaxAttempts consecutive attempts fail. It returns nil on close and an
// error wrapping ErrRetriesExhausted on persistent failure.
func (r *Reconnector) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.cancel = cancel
	r.mu.Unlock()

	attempt := 0
	for {
		delay := r.backoff.Delay(0)

		conn, err := r.connect(ctx)
		switch {
		case ctx.Err() != nil:
			if conn != nil {
				_ = conn.Close()
			}
			return r.stop()
		case err != nil:
			delay = r.backoff.Delay(attempt)
			attempt++
			log.Warn().Err(err).
				Int("attempt", attempt).
				Int("max_attempts", r.cfg.MaxAttempts).
				Msg("realtime connect failed")
			if attempt >= r.cfg.MaxAttempts {
				r.must(StateFailed)
				return fmt.Errorf("client.Reconnector.Run: %w: %w", ErrRetriesExhausted, err)
			}
		default:
			attempt = 0
			err = r.serve(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return r.stop()
			}
			log.Warn().Err(err).Str("connection_id", r.ConnectionID()).Msg("realtime connection lost")
		}

		r.must(StateReconnecting)
		log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("realtime reconnect scheduled")

		select {
		case <-ctx.Done():
			return r.stop()
		case <-r.clock.After(delay):
		}
		r.must(StateConnecting)
	}
}

// must applies a transition the run loop knows to be legal. A failure here
// means Close won the race, which the next ctx check observes.
func (r *Reconnector) must(to State) {
	if err := r.machine.transition(to); err != nil {
		log.Debug().Err(err).Msg("realtime state transition skipped")
	}
}

func (r *Reconnector) stop() error {
	if r.machine.current() != StateClosed {
		r.must(StateClosed)
	}
	return nil
}

// connect dials, waits for the connected frame, re-issues the remaining
// board subscriptions and refreshes every board. Only then is the
// connection reported as connected.
func (r *Reconnector) connect(ctx context.Context) (Conn, error) {
	target, err := r.handshakeURL()
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := r.cfg.Dialer.Dial(hctx, target)
	if err != nil {
		return nil, err
	}

	sctx, scancel := context.WithTimeout(ctx, r.cfg.SyncTimeout)
	defer scancel()

	if err := r.sync(sctx, hctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := r.machine.transition(StateConnected); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("client.Reconnector.connect: %w", err)
	}
	log.Info().
		Str("connection_id", r.ConnectionID()).
		Ints64("boards", r.cfg.Boards).
		Msg("realtime connected")
	return conn, nil
}

func (r *Reconnector) sync(ctx, hctx context.Context, conn Conn) error {
	data, err := conn.Read(hctx)
	if err != nil {
		return fmt.Errorf("client.Reconnector.sync: read connected frame: %w", err)
	}
	var hello struct {
		Event string                 `json:"event"`
		Data  realtime.ConnectedData `json:"data"`
	}
	if err := json.Unmarshal(data, &hello); err != nil || hello.Event != realtime.EventConnected || hello.Data.ConnectionID == "" {
		return fmt.Errorf("client.Reconnector.sync: %w", errNotConnected)
	}

	r.mu.Lock()
	r.connectionID = hello.Data.ConnectionID
	r.mu.Unlock()

	if len(r.cfg.Boards) > 1 {
		for _, b := range r.cfg.Boards[1:] {
			if err := r.cfg.Subscriber.Subscribe(ctx, hello.Data.ConnectionID, b); err != nil {
				return fmt.Errorf("client.Reconnector.sync: %w", err)
			}
		}
	}

	if err := r.cfg.Refresher.Refresh(ctx, r.cfg.Boards); err != nil {
		return fmt.Errorf("client.Reconnector.sync: %w", err)
	}
	return nil
}

// serve runs the pinger and the reader until either fails or ctx ends.
func (r *Reconnector) serve(ctx context.Context, conn Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := r.clock.NewTicker(r.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.Chan():
				if err := conn.Write(gctx, realtime.PingFrame()); err != nil {
					return fmt.Errorf("ping: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			data, err := conn.Read(gctx)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			if err := r.handle(gctx, conn, data); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

func (r *Reconnector) handle(ctx context.Context, conn Conn, data []byte) error {
	if frame, ok := realtime.ParseControl(data); ok {
		if frame.Type == realtime.FrameTypePing {
			if err := conn.Write(ctx, realtime.PongFrame()); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		}
		return nil
	}

	var frame realtime.ChangeFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		log.Debug().Int("bytes", len(data)).Msg("realtime frame ignored")
		return nil
	}
	if frame.Event == realtime.EventConnected {
		return nil
	}
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(frame)
	}
	return nil
}

func (r *Reconnector) handshakeURL() (string, error) {
	u, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("client.Reconnector.handshakeURL: %w", err)
	}
	u.Scheme, _ = wsScheme(u.Scheme)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/boards"

	q := url.Values{}
	if id := r.ConnectionID(); id != "" {
		q.Set("connection_id", id)
	}
	if len(r.cfg.Boards) > 0 {
		q.Set("board_id", strconv.FormatInt(r.cfg.Boards[0], 10))
	}
	if r.cfg.DisplayName != "" {
		q.Set("display_name", r.cfg.DisplayName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func wsScheme(scheme string) (string, bool) {
	switch scheme {
	case "http", "ws":
		return "ws", true
	case "https", "wss":
		return "wss", true
	default:
		return "", false
	}
}

func httpBaseURL(u *url.URL) string {
	out := *u
	switch out.Scheme {
	case "ws":
		out.Scheme = "http"
	case "wss":
		out.Scheme = "https"
	}
	out.RawQuery = ""
	out.Fragment = ""
	return strings.TrimSuffix(out.String(), "/")
}
