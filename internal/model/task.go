package model

import "time"

// Task priorities as sent over the wire.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Recurrence describes how a task repeats, e.g. {"daily", 1} or {"weekly", 2}.
type Recurrence struct {
	Frequency string `json:"frequency"` // daily, weekly, monthly
	Interval  int    `json:"interval"`  // every N periods
}

// TaskSnapshot is a full, self-contained representation of task state.
//
// Update events always carry whole snapshots, never partial patches, so
// consumers replace records wholesale instead of merging fields.
type TaskSnapshot struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Completed   bool        `json:"completed"`
	Priority    string      `json:"priority,omitempty"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
