// Package recording implements session capture: starting/stopping a
// recording session, tapping every upstream tool call into its log under a
// per-session lock, and projecting a session's logs into a skill draft.
package recording

import "time"

// CallStatus is the outcome of one captured upstream call.
type CallStatus string

const (
	StatusSuccess   CallStatus = "success"
	StatusError     CallStatus = "error"
	StatusTimeout   CallStatus = "timeout"
	StatusCancelled CallStatus = "cancelled"
)

// ToolCallLog is one captured upstream call. Immutable once appended.
type ToolCallLog struct {
	Index      int            `json:"index"` // monotonic within the session, starting at 1
	Timestamp  time.Time      `json:"timestamp"`
	ServerID   string         `json:"server_id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Status     CallStatus     `json:"status"`
}

// Session is an ordered sequence of ToolCallLogs plus metadata. Mutable
// only while active (single writer per session, serialised by a
// per-session lock); sealed by Stop, then persisted immutably.
type Session struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	ClientID    string            `json:"client_id,omitempty"`
	WorkspaceID string            `json:"workspace_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Logs        []ToolCallLog     `json:"logs"`
}
