// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metnitcs/stream-webui/internal/api"
	"github.com/metnitcs/stream-webui/internal/config"
	"github.com/metnitcs/stream-webui/internal/credentials"
	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/persistence/memory"
	"github.com/metnitcs/stream-webui/internal/persistence/postgres"
	"github.com/metnitcs/stream-webui/internal/persistence/sqlite"
	"github.com/metnitcs/stream-webui/internal/schedule"
	"github.com/metnitcs/stream-webui/internal/service"
	"github.com/metnitcs/stream-webui/internal/stream/engine"
	"github.com/metnitcs/stream-webui/internal/telemetry"
	"github.com/metnitcs/stream-webui/internal/version"
)

const shutdownTimeout = 15 * time.Second

func run(ctx context.Context, configPath string) error {
	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "stream-webui",
		Version: cfg.Version,
	})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("storage", cfg.Storage.Backend).
		Str("events", cfg.Events.Backend).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Bool("tracing", cfg.Telemetry.Enabled).
		Msg("starting")

	for _, dir := range []string{cfg.DataDir, cfg.UploadsDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "stream-webui",
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	cipher, err := credentials.NewCipher([]byte(cfg.Secret))
	if err != nil {
		return err
	}

	var svc *service.Service
	eng := engine.New(engine.Config{
		FFmpegBin:      cfg.FFmpeg.Bin,
		WorkDir:        cfg.WorkDir,
		HealthInterval: cfg.FFmpeg.HealthInterval,
		StartupTimeout: cfg.FFmpeg.StartupTimeout,
		StopGrace:      cfg.FFmpeg.StopGrace,
		Publisher:      bus,
		OnJobEnded:     func(jobID, ownerID string) { svc.JobEnded(jobID, ownerID) },
	})
	svc = service.New(service.Deps{
		Store:          store,
		Engine:         eng,
		Destinations:   credentials.NewResolver(store, cipher),
		Sealer:         cipher,
		UploadsDir:     cfg.UploadsDir,
		DefaultRTMPURL: cfg.DefaultRTMPURL,
	})
	if _, err := svc.RecoverOrphans(ctx); err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.New(api.Deps{
			Service:   svc,
			Events:    bus,
			RateLimit: cfg.RateLimit,
			Version:   cfg.Version,
			Ready:     readiness(store),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Scheduler.Enabled {
		act := &schedule.Activator{
			Store:     store,
			Start:     svc.StartScheduled,
			Interval:  cfg.Scheduler.Interval,
			BatchSize: cfg.Scheduler.BatchSize,
		}
		g.Go(func() error {
			if err := act.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete, closing connections")
			_ = srv.Close()
		}
		if err := eng.StopAll(sctx); err != nil {
			logger.Warn().Err(err).Msg("encoder processes did not exit in time")
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.AppConfig) (persistence.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StoragePostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: cfg.Storage.DatabaseURL, ApplicationName: "stream-webui"})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.NewStore(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}

func openBus(ctx context.Context, cfg config.AppConfig) (events.Bus, error) {
	if cfg.Events.Backend == config.EventsRedis {
		b, err := events.NewRedisBus(ctx, events.RedisConfig{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis event bus: %w", err)
		}
		return b, nil
	}
	return events.NewMemoryBus(), nil
}

func readiness(store persistence.Store) func(context.Context) error {
	p, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping
}
