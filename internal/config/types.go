// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration with precedence
// ENV > YAML file > defaults.
package config

import "time"

// AppConfig is the resolved daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	ListenAddr string `yaml:"listen"`
	DataDir    string `yaml:"dataDir"`
	UploadsDir string `yaml:"uploadsDir"`
	WorkDir    string `yaml:"workDir"`
	LogLevel   string `yaml:"logLevel"`

	// Secret seals stream keys at rest. Exactly 32 bytes.
	Secret         string `yaml:"secret"`
	DefaultRTMPURL string `yaml:"defaultRtmpUrl"`
	// RateLimit is requests per minute per client address. Zero disables it.
	RateLimit int `yaml:"rateLimit"`

	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type FFmpegConfig struct {
	Bin            string        `yaml:"bin"`
	HealthInterval time.Duration `yaml:"healthInterval"`
	StartupTimeout time.Duration `yaml:"startupTimeout"`
	StopGrace      time.Duration `yaml:"stopGrace"`
}

type SchedulerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batchSize"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // sqlite | postgres | memory
	SQLitePath  string `yaml:"sqlitePath"`
	DatabaseURL string `yaml:"databaseUrl"`
}

// EventsConfig selects the event transport.
type EventsConfig struct {
	Backend       string `yaml:"backend"` // memory | redis
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
}

// TelemetryConfig controls OpenTelemetry tracing. Disabled means a no-op provider.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	EventsMemory = "memory"
	EventsRedis  = "redis"
)
