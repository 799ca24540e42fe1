// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by stream spans. Destination URLs are never attached.
const (
	JobIDKey            = "stream.job_id"
	OwnerIDKey          = "stream.owner_id"
	ModeKey             = "stream.mode"
	InputKindKey        = "stream.input_kind"
	DestinationCountKey = "stream.destination_count"
	ScheduleIDKey       = "schedule.id"
	OutcomeKey          = "schedule.outcome"
)

// JobAttributes describes a job start.
func JobAttributes(jobID, ownerID, mode, inputKind string, destinations int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(OwnerIDKey, ownerID),
		attribute.String(ModeKey, mode),
		attribute.String(InputKindKey, inputKind),
		attribute.Int(DestinationCountKey, destinations),
	}
}

// ScheduleAttributes describes a schedule activation.
func ScheduleAttributes(scheduleID int64, ownerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(ScheduleIDKey, scheduleID),
		attribute.String(OwnerIDKey, ownerID),
	}
}
