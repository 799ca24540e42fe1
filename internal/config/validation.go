// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// FieldError reports one invalid setting.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// Validate checks a resolved configuration and joins every problem found.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if _, port, err := net.SplitHostPort(cfg.ListenAddr); err != nil || port == "" {
		add("listen", "must be host:port, got %q", cfg.ListenAddr)
	}
	if len(cfg.Secret) != 32 {
		add("secret", "must be exactly 32 bytes (got %d)", len(cfg.Secret))
	}
	if cfg.DefaultRTMPURL != "" {
		u, err := url.Parse(cfg.DefaultRTMPURL)
		if err != nil || (u.Scheme != "rtmp" && u.Scheme != "rtmps") || u.Host == "" {
			add("defaultRtmpUrl", "must be an rtmp:// or rtmps:// URL")
		}
	}
	if cfg.RateLimit < 0 {
		add("rateLimit", "must not be negative")
	}
	if strings.TrimSpace(cfg.FFmpeg.Bin) == "" {
		add("ffmpeg.bin", "is required")
	}
	positive := map[string]time.Duration{
		"ffmpeg.healthInterval": cfg.FFmpeg.HealthInterval,
		"ffmpeg.startupTimeout": cfg.FFmpeg.StartupTimeout,
		"ffmpeg.stopGrace":      cfg.FFmpeg.StopGrace,
		"scheduler.interval":    cfg.Scheduler.Interval,
	}
	for field, d := range positive {
		if d <= 0 {
			add(field, "must be positive")
		}
	}
	if cfg.Scheduler.BatchSize < 1 || cfg.Scheduler.BatchSize > 100 {
		add("scheduler.batchSize", "must be between 1 and 100")
	}

	switch cfg.Storage.Backend {
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			add("storage.sqlitePath", "is required for sqlite")
		}
	case StoragePostgres:
		if cfg.Storage.DatabaseURL == "" {
			add("storage.databaseUrl", "is required for postgres")
		}
	case StorageMemory:
	default:
		add("storage.backend", "unknown backend %q", cfg.Storage.Backend)
	}

	switch cfg.Events.Backend {
	case EventsMemory:
	case EventsRedis:
		if cfg.Events.RedisAddr == "" {
			add("events.redisAddr", "is required for redis")
		}
	default:
		add("events.backend", "unknown backend %q", cfg.Events.Backend)
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter", "unknown exporter %q", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint", "is required when tracing is enabled")
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate", "must be between 0 and 1")
	}

	return errors.Join(errs...)
}
