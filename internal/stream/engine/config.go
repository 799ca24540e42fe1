// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/stream/ffmpeg"
)

// Config holds the supervisor settings.
type Config struct {
	FFmpegBin string
	// WorkDir receives generated manifests.
	WorkDir string

	HealthInterval time.Duration
	StartupTimeout time.Duration
	// StopGrace is how long a process may take to exit after SIGINT before it is killed.
	StopGrace time.Duration
	// RecentErrors is the number of errors carried in a health snapshot.
	RecentErrors int
	// StderrLines is the number of trailing diagnostic lines kept per process.
	StderrLines int

	Encode    ffmpeg.EncodeProfile
	Publisher events.Publisher

	// OnJobEnded is called when every process of a job exited cleanly and the
	// job left the registry without an explicit stop.
	OnJobEnded func(jobID, ownerID string)

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FFmpegBin == "" {
		c.FFmpegBin = "ffmpeg"
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.RecentErrors <= 0 {
		c.RecentErrors = 5
	}
	if c.StderrLines <= 0 {
		c.StderrLines = 50
	}
	if c.Publisher == nil {
		c.Publisher = events.Nop{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
