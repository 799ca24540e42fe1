// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldScheduleID = "schedule_id"
	FieldOwnerID    = "owner_id"
	FieldChannelID  = "channel_id"

	// Process fields
	FieldEvent        = "event"
	FieldComponent    = "component"
	FieldProcessIndex = "proc_index"
	FieldPID          = "pid"
	FieldExitCode     = "exit_code"
	FieldSignal       = "signal"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldMode     = "mode"
	FieldKind     = "kind"

	// Path fields
	FieldPath         = "path"
	FieldManifestPath = "manifest_path"
)
