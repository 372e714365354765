package model

import "time"

// Kinds of task update events emitted by the CRUD collaborator.
const (
	TaskCreated   = "created"
	TaskUpdated   = "updated"
	TaskDeleted   = "deleted"
	TaskCompleted = "completed"
)

// Envelope types on the sync push channel.
const (
	PushConnected  = "connected"
	PushTaskUpdate = "task_update"
	PushHeartbeat  = "heartbeat"
)

// Notification channel event types.
const (
	NotifyReminder  = "reminder"
	NotifyHeartbeat = "heartbeat"
	NotifyConnected = "connected"
)

// TaskUpdateEvent is a single mutation of a task, carrying the full
// post-mutation snapshot. Timestamp is the server-issued emission time.
type TaskUpdateEvent struct {
	Event     string       `json:"event"`
	Task      TaskSnapshot `json:"task"`
	Timestamp time.Time    `json:"timestamp"`
}

// PushEnvelope wraps every message on the sync push channel.
//
// Event and Task are only set when Type is "task_update"; ConnectionID is
// only set on the initial "connected" message.
type PushEnvelope struct {
	Type         string        `json:"type"`
	Event        string        `json:"event,omitempty"`
	Task         *TaskSnapshot `json:"task,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	ConnectionID string        `json:"connection_id,omitempty"`
}

// NotificationData is the payload of a notification channel message.
type NotificationData struct {
	TaskID       string    `json:"task_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connection_id,omitempty"`
}

// NotificationEvent wraps every message on the notification channel. It
// lives in a separate identity space from PushEnvelope so alert
// back-pressure can never block task sync.
type NotificationEvent struct {
	Type string           `json:"type"`
	Data NotificationData `json:"data"`
}

// PollResponse is the body of GET /api/sync/poll. Timestamp is the server
// clock at response time and must be echoed back as the next "since" value
// even when Tasks is empty.
type PollResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Tasks     []TaskSnapshot `json:"tasks"`
	HasMore   bool           `json:"has_more"`
}
