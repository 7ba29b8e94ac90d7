// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldJobID         = "job_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Renderer / queue fields
	FieldRendererID = "renderer_id"
	FieldBackendID  = "backend_id"
	FieldDidlID     = "didl_id"
	FieldSID        = "sid"

	// Source / cache fields
	FieldSourceID = "source_id"
	FieldObjectID = "object_id"
	FieldPK       = "pk"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
