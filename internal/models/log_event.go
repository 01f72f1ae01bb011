package models

import "time"

// Log event types.
const (
	EventDiscovered = "DISCOVERED"
	EventRenamed    = "RENAMED"
	EventMetric     = "METRIC"
	EventTelemetry  = "TELEMETRY"
	EventUnhandled  = "UNHANDLED"
	EventCommand    = "COMMAND"
	EventError      = "ERROR"
)

// LogEvent is a single operator log entry.
type LogEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // DISCOVERED | RENAMED | METRIC | TELEMETRY | UNHANDLED | COMMAND | ERROR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

// DisplayEvent is the envelope streamed to display clients.
type DisplayEvent struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}
