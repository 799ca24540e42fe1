// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
var ErrUnknownConfigField = errors.New("unknown config field")

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every environment key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

// Load resolves defaults, then the file (strict), then the environment, and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)
	derivePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr: ":3001",
		DataDir:    "data",
		LogLevel:   "info",
		RateLimit:  120,
		FFmpeg: FFmpegConfig{
			Bin:            "ffmpeg",
			HealthInterval: 5 * time.Second,
			StartupTimeout: 30 * time.Second,
			StopGrace:      5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			Interval:  time.Minute,
			BatchSize: 5,
		},
		Storage: StorageConfig{Backend: StorageSQLite},
		Events:  EventsConfig{Backend: EventsMemory},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	listen := cfg.ListenAddr
	if port := l.envString("BACKEND_PORT", ""); port != "" {
		listen = ":" + strings.TrimPrefix(port, ":")
	}
	cfg.ListenAddr = l.envString("STREAM_LISTEN", listen)
	cfg.DataDir = l.envString("STREAM_DATA_DIR", cfg.DataDir)
	cfg.UploadsDir = l.envString("STREAM_UPLOADS_DIR", cfg.UploadsDir)
	cfg.WorkDir = l.envString("STREAM_WORK_DIR", cfg.WorkDir)
	cfg.LogLevel = l.envString("STREAM_LOG_LEVEL", cfg.LogLevel)
	cfg.Secret = l.envString("STREAM_SECRET", cfg.Secret)
	cfg.DefaultRTMPURL = l.envString("DEFAULT_RTMP_URL", cfg.DefaultRTMPURL)
	cfg.RateLimit = l.envInt("STREAM_RATE_LIMIT", cfg.RateLimit)

	cfg.FFmpeg.Bin = l.envString("STREAM_FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.HealthInterval = l.envDuration("STREAM_HEALTH_INTERVAL", cfg.FFmpeg.HealthInterval)
	cfg.FFmpeg.StartupTimeout = l.envDuration("STREAM_STARTUP_TIMEOUT", cfg.FFmpeg.StartupTimeout)
	cfg.FFmpeg.StopGrace = l.envDuration("STREAM_STOP_GRACE", cfg.FFmpeg.StopGrace)

	cfg.Scheduler.Enabled = l.envBool("STREAM_SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.Interval = l.envDuration("STREAM_SCHEDULER_INTERVAL", cfg.Scheduler.Interval)
	cfg.Scheduler.BatchSize = l.envInt("STREAM_SCHEDULER_BATCH", cfg.Scheduler.BatchSize)

	cfg.Storage.Backend = strings.ToLower(l.envString("STREAM_STORAGE", cfg.Storage.Backend))
	cfg.Storage.DatabaseURL = l.envString("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Storage.SQLitePath = l.envString("STREAM_SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.Events.Backend = strings.ToLower(l.envString("STREAM_EVENTS", cfg.Events.Backend))
	cfg.Events.RedisAddr = l.envString("STREAM_REDIS_ADDR", cfg.Events.RedisAddr)
	cfg.Events.RedisPassword = l.envString("STREAM_REDIS_PASSWORD", cfg.Events.RedisPassword)
	cfg.Events.RedisDB = l.envInt("STREAM_REDIS_DB", cfg.Events.RedisDB)

	cfg.Telemetry.Enabled = l.envBool("STREAM_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = strings.ToLower(l.envString("STREAM_OTEL_EXPORTER", cfg.Telemetry.Exporter))
	cfg.Telemetry.Endpoint = l.envString("STREAM_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("STREAM_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// derivePaths fills directories that default to locations under DataDir.
func derivePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.DataDir, "tmp")
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.DataDir, "stream.db")
	}
}
