package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/boardsync/internal/config"
	"github.com/gosuda/boardsync/internal/realtime"
	"github.com/gosuda/boardsync/internal/server"
	"github.com/gosuda/boardsync/internal/store/postgres"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Apply schema migrations, then connect to PostgreSQL.
	if err := postgres.Migrate(cfg.Database.URL()); err != nil {
		return err
	}
	store, err := postgres.New(ctx, cfg.Database.URL(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Realtime core: registry, fan-out, mutation bridge, heartbeat.
	registry := realtime.NewRegistry(realtime.Options{
		SendBuffer:   cfg.Realtime.SendBuffer,
		WriteTimeout: cfg.Realtime.WriteTimeout,
	})
	bridge := realtime.NewBridge(registry, realtime.NewBroadcaster(registry))
	supervisor := realtime.NewSupervisor(registry, realtime.SupervisorConfig{
		PingInterval: cfg.Realtime.PingInterval,
		MaxMissed:    cfg.Realtime.MaxMissedPings,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })

	// Optional cross-instance relay over Redis.
	if cfg.Redis.Addr != "" {
		pubsub, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer pubsub.Close()

		relay := redisstore.NewRelay(pubsub, redisstore.RelayConfig{Channel: cfg.Redis.Channel})
		bridge.SetRelay(relay)
		g.Go(func() error { return relay.Run(gctx, bridge) })
	} else {
		log.Info().Msg("redis not configured, running standalone")
	}

	// Create HTTP server with all routes wired.
	srv := server.New(gctx, cfg, store, registry, bridge)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		return srv.Start(gctx)
	})

	// Block until shutdown signal or a component failure.
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		err := srv.Shutdown(shutdownCtx)
		registry.Shutdown(realtime.ReasonShutdown)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
