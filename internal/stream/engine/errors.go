// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"errors"
	"fmt"

	"github.com/metnitcs/stream-webui/internal/stream/input"
)

var (
	// ErrAlreadyExists is returned when a job id is already registered or being started.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrNoDestinations is returned when a job is started without sinks.
	ErrNoDestinations = errors.New("no destinations")
)

// ResolutionError reports a missing or unusable input file.
type ResolutionError = input.ResolutionError

// SpawnError reports an encoder process that could not be created. No part
// of the job is left registered when it is returned.
type SpawnError struct {
	Index int
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn encoder %d: %v", e.Index, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
