package model

import (
	"time"

	"github.com/google/uuid"
)

// Reminder statuses. The status of a reminder is derived from its latest
// delivery attempt and the cancelled flag; it is never stored on its own.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Delivery attempt outcomes.
const (
	AttemptSent     = "sent"
	AttemptFailed   = "failed"
	AttemptRetrying = "retrying"
)

// MaxDeliveryAttempts is the per-reminder delivery budget. Attempt 1 fires
// at the scheduled time, attempt 2 five minutes after a failure, attempt 3
// fifteen minutes after that. A third failure is terminal.
const MaxDeliveryAttempts = 3

// Reminder represents a scheduled, user-visible notification for a task.
type Reminder struct {
	ID        uuid.UUID `json:"id"`
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"` // delivery method, e.g. "email", "telegram", "push"
	To        string    `json:"to"`      // recipient identifier, such as email or chat ID
	SendAt    time.Time `json:"send_at"`
	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryAttempt is one row of the append-only delivery audit trail.
// Rows are never mutated; attempt numbers strictly increase per reminder.
type DeliveryAttempt struct {
	ReminderID    uuid.UUID `json:"reminder_id"`
	AttemptNumber int       `json:"attempt_number"`
	Status        string    `json:"status"` // sent, failed, retrying
	ScheduledFor  time.Time `json:"scheduled_for"`
	AttemptedAt   time.Time `json:"attempted_at"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Alert is the payload handed to a delivery collaborator.
type Alert struct {
	ReminderID uuid.UUID
	TaskID     string
	Title      string
	Message    string
	To         string
}
