package realtime

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/metrics"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultMaxMissed    = 3
)

// SupervisorConfig configures the heartbeat supervisor.
type SupervisorConfig struct {
	// PingInterval is the time between sweeps.
	PingInterval time.Duration
	// MaxMissed is the number of consecutive silent cycles after which a
	// connection is declared dead.
	MaxMissed int
}

// SweepResult summarizes one heartbeat pass.
type SweepResult struct {
	Pinged  int
	Suspect int
	Evicted []string
}

// Supervisor pings every connection on a fixed cadence and evicts the ones
// that stayed silent for MaxMissed cycles. A cycle counts as missed when no
// inbound frame of any kind arrived since the previous ping.
type Supervisor struct {
	registry *Registry
	clock    clockwork.Clock
	interval time.Duration
	maxMiss  int
}

// NewSupervisor creates a supervisor over registry. It shares the registry's clock.
func NewSupervisor(registry *Registry, cfg SupervisorConfig) *Supervisor {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = defaultMaxMissed
	}

	return &Supervisor{
		registry: registry,
		clock:    registry.clock,
		interval: cfg.PingInterval,
		maxMiss:  cfg.MaxMissed,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.interval).
		Int("max_missed", s.maxMiss).
		Msg("heartbeat supervisor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("heartbeat supervisor stopped")
			return nil
		case <-ticker.Chan():
			res := s.Sweep()
			if len(res.Evicted) > 0 {
				log.Info().
					Int("evicted", len(res.Evicted)).
					Int("suspect", res.Suspect).
					Msg("heartbeat sweep evicted silent connections")
			}
		}
	}
}

// Sweep runs one heartbeat pass. Liveness bookkeeping happens under the
// registry lock; pings are queued and dead connections evicted after it is
// released.
func (s *Supervisor) Sweep() SweepResult {
	now := s.clock.Now()

	var (
		dead  []*Connection
		alive []*Connection
		res   SweepResult
	)

	s.registry.mu.Lock()
	for _, c := range s.registry.connections {
		if c.lastActivity.After(c.pingedAt) {
			c.missed = 0
		} else {
			c.missed++
		}

		switch {
		case c.missed >= s.maxMiss:
			c.liveness = LivenessDead
			dead = append(dead, c)
			continue
		case c.missed > 0:
			c.liveness = LivenessSuspect
			res.Suspect++
		default:
			c.liveness = LivenessAlive
		}
		c.pingedAt = now
		alive = append(alive, c)
	}
	s.registry.mu.Unlock()

	for _, c := range dead {
		if s.registry.EvictConnection(c, ReasonHeartbeat) {
			res.Evicted = append(res.Evicted, c.id)
		}
	}
	for _, c := range alive {
		if err := s.registry.Send(c, PingFrame()); err == nil {
			res.Pinged++
		}
	}

	metrics.HeartbeatSweeps.Inc()
	metrics.HeartbeatSuspect.Set(float64(res.Suspect))

	return res
}
