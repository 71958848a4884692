package models

import "time"

// EventKind tags a diagnostic event record.
type EventKind string

const (
	EventConnectivityStatus EventKind = "connectivity_status"
	EventQueueSnapshot      EventKind = "queue_snapshot"
	EventSyncCycle          EventKind = "sync_cycle"
)

// DiagnosticEvent is one entry in the diagnostics ring buffer.
type DiagnosticEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewDiagnosticEvent creates an event stamped with the current time.
func NewDiagnosticEvent(kind EventKind, payload map[string]interface{}) DiagnosticEvent {
	return DiagnosticEvent{
		Kind:      kind,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// QueueSnapshot summarizes the action queue for the UI and diagnostics.
type QueueSnapshot struct {
	QueueLength    int   `json:"queue_length"`
	ReadyLength    int   `json:"ready_length"`
	DeferredLength int   `json:"deferred_length"`
	FailedLength   int   `json:"failed_length"`
	NextRetryInMs  int64 `json:"next_retry_in_ms"`
}
