package domain

import "github.com/bytedance/sonic"

// Event types emitted when tasks change.
const (
	EventTaskCreated   = "task-created"
	EventTaskCompleted = "task-completed"
	EventTaskReopened  = "task-reopened"
	EventTaskDeleted   = "task-deleted"
)

// TaskEvent describes a single change applied to a task.
type TaskEvent struct {
	ID         string                 `json:"id"`
	EntityID   string                 `json:"entityId"`
	EntityType string                 `json:"entityType"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// EventEnvelope wraps an event with the owner scope it happened in.
type EventEnvelope struct {
	Owner string    `json:"owner,omitempty"`
	Event TaskEvent `json:"event"`
}
