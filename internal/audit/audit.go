// Package audit is a minimal external-collaborator sketch (spec.md §6):
// a structured event shape and a Sink interface a real audit pipeline
// would implement. Only a no-op and a logging Sink are provided here —
// shipping audit events to a durable store is out of scope.
package audit

import (
	"log"
	"time"
)

// Event is one audited action: a management-catalogue call, a skill
// mutation, or a server registry change.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"` // client_id or workspace_id
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Success   bool           `json:"success"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Sink accepts audit events. Implementations must not block the caller
// for long; a slow or unavailable sink should drop or buffer rather than
// stall the façade call it was attached to.
type Sink interface {
	Record(Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(Event) {}

// LogSink writes events to the standard logger, one line per event.
type LogSink struct{}

func (LogSink) Record(e Event) {
	log.Printf("[Audit] actor=%s action=%s target=%s success=%v", e.Actor, e.Action, e.Target, e.Success)
}
