// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events carries job log, status and health events to the clients
// of one owner. Delivery is best-effort.
package events

import (
	"context"
	"time"

	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// Kind identifies the event shape.
type Kind string

const (
	KindLog    Kind = "log"
	KindStatus Kind = "status"
	KindHealth Kind = "health"
)

// Event is the union of the three published shapes.
type Event struct {
	Kind  Kind   `json:"kind"`
	JobID string `json:"jobId"`

	// log
	Line         string `json:"line,omitempty"`
	ProcessIndex *int   `json:"processIndex,omitempty"`

	// status
	Status  model.JobStatus `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`

	// health
	Health *model.HealthSnapshot `json:"health,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// LogEvent wraps one raw diagnostic chunk of process idx.
func LogEvent(jobID string, idx int, chunk string) Event {
	return Event{Kind: KindLog, JobID: jobID, Line: chunk, ProcessIndex: &idx, Timestamp: time.Now().UTC()}
}

// StatusEvent reports a status change or error entry.
func StatusEvent(jobID string, status model.JobStatus, message string, ts time.Time) Event {
	return Event{Kind: KindStatus, JobID: jobID, Status: status, Message: message, Timestamp: ts.UTC()}
}

// HealthEvent carries a periodic health snapshot.
func HealthEvent(jobID string, snap model.HealthSnapshot, ts time.Time) Event {
	return Event{Kind: KindHealth, JobID: jobID, Health: &snap, Timestamp: ts.UTC()}
}

// Publisher accepts events for an owner. Implementations never block the
// caller on slow consumers and report failures through metrics and logs.
type Publisher interface {
	Publish(ctx context.Context, ownerID string, ev Event)
}

// Subscription is a stream of events for one owner.
type Subscription interface {
	C() <-chan Event
	Close() error
}

// Bus is a Publisher that clients can subscribe to.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ownerID string, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ownerID string, ev Event) { f(ctx, ownerID, ev) }
