// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the stream job vocabulary shared by the engine, the
// scheduler, persistence and the API.
package model

import (
	"strings"
	"time"
)

// FanoutMode selects how one job reaches several destinations.
type FanoutMode string

const (
	// ModePerChannel runs one independent encoder per destination.
	ModePerChannel FanoutMode = "per_channel"
	// ModeTee runs one encoder and duplicates its output to every destination.
	ModeTee FanoutMode = "tee"
)

// ParseFanoutMode maps request/storage values onto a mode. Anything that is
// not "tee" runs per channel.
func ParseFanoutMode(s string) FanoutMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeTee)) {
		return ModeTee
	}
	return ModePerChannel
}

// JobStatus is the job-level lifecycle state.
type JobStatus string

const (
	StatusStarting  JobStatus = "starting"
	StatusStreaming JobStatus = "streaming"
	StatusError     JobStatus = "error"
	StatusTimeout   JobStatus = "timeout"
	StatusFailed    JobStatus = "failed"
	StatusStopped   JobStatus = "stopped"
	// StatusUnknown is reported for persisted jobs the registry does not hold.
	StatusUnknown JobStatus = "unknown"
)

// IsTerminal returns true if no further transition except an explicit stop is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusTimeout, StatusStopped:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal job status move.
//
//	starting  -> streaming | failed | timeout | stopped
//	streaming -> error | failed | timeout | stopped
//	error     -> error | failed | timeout | stopped
//	failed, timeout -> stopped
func CanTransition(from, to JobStatus) bool {
	if from == StatusStopped {
		return false
	}
	if to == StatusStopped {
		return true
	}
	switch from {
	case StatusStarting:
		return to == StatusStreaming || to == StatusFailed || to == StatusTimeout
	case StatusStreaming, StatusError:
		return to == StatusError || to == StatusFailed || to == StatusTimeout
	}
	return false
}

// ErrorKind classifies an entry of a job's error log.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindRTMP    ErrorKind = "rtmp"
	KindAuth    ErrorKind = "auth"
	KindDisk    ErrorKind = "disk"
	KindCrash   ErrorKind = "crash"
	KindSystem  ErrorKind = "system"
	KindTimeout ErrorKind = "timeout"
)

// IsAdvisory reports whether the kind leaves the job running.
func (k ErrorKind) IsAdvisory() bool {
	switch k {
	case KindNetwork, KindRTMP, KindAuth, KindDisk:
		return true
	}
	return false
}

// JobError is one entry of a job's append-only error log.
type JobError struct {
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	Kind         ErrorKind `json:"kind"`
	ProcessIndex int       `json:"processIndex"`
}

// ProcessState is the lifecycle of a single encoder subprocess.
type ProcessState string

const (
	ProcRunning       ProcessState = "running"
	ProcExited        ProcessState = "exited"
	ProcCrashed       ProcessState = "crashed"
	ProcStopped       ProcessState = "stopped"
	ProcFailedToSpawn ProcessState = "failed_to_spawn"
)

// ProcessInfo is the externally visible view of one subprocess.
type ProcessInfo struct {
	Index    int          `json:"index"`
	PID      int          `json:"pid,omitempty"`
	State    ProcessState `json:"state"`
	ExitCode int          `json:"exitCode,omitempty"`
	Signal   string       `json:"signal,omitempty"`
}

// JobView is the result of a status query.
type JobView struct {
	JobID            string        `json:"jobId"`
	OwnerID          string        `json:"ownerId"`
	Status           JobStatus     `json:"status"`
	Mode             FanoutMode    `json:"mode"`
	StartedAt        time.Time     `json:"startedAt"`
	UptimeMs         int64         `json:"uptimeMs"`
	Errors           []JobError    `json:"errors"`
	DestinationCount int           `json:"destinationCount"`
	Processes        []ProcessInfo `json:"processes,omitempty"`
}

// HealthSnapshot is the periodic job summary published to subscribers.
type HealthSnapshot struct {
	Status           JobStatus  `json:"status"`
	UptimeMs         int64      `json:"uptimeMs"`
	RecentErrors     []JobError `json:"recentErrors"`
	DestinationCount int        `json:"destinationCount"`
}
