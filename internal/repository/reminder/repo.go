package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/taskwire/tasksync/internal/model"
)

var (
	ErrReminderNotFound = errors.New("reminder not found")
	ErrNoAttempts       = errors.New("no delivery attempts recorded")
)

// Repository provides access to the reminders table and the append-only
// reminder_delivery_attempts audit log.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new reminder repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateReminder inserts a new reminder and returns its ID.
func (r *Repository) CreateReminder(ctx context.Context, rem model.Reminder) (uuid.UUID, error) {
	query := `
		INSERT INTO reminders (
		    task_id, title, message, channel, "to", send_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id;
    `

	err := r.db.Master.QueryRowContext(
		ctx, query, rem.TaskID, rem.Title, rem.Message, rem.Channel, rem.To, rem.SendAt,
	).Scan(&rem.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create reminder: %w", err)
	}

	return rem.ID, nil
}

// GetReminder retrieves a reminder by its ID.
func (r *Repository) GetReminder(ctx context.Context, id uuid.UUID) (model.Reminder, error) {
	query := `
		SELECT id, task_id, title, message, channel, "to", send_at, cancelled, created_at, updated_at
		FROM reminders
		WHERE id = $1;
    `

	var rem model.Reminder
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(
		&rem.ID, &rem.TaskID, &rem.Title, &rem.Message, &rem.Channel,
		&rem.To, &rem.SendAt, &rem.Cancelled, &rem.CreatedAt, &rem.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reminder{}, ErrReminderNotFound
		}

		return model.Reminder{}, fmt.Errorf("failed to get reminder: %w", err)
	}

	return rem, nil
}

// Cancel marks a reminder as cancelled. The worker skips cancelled
// reminders before attempting delivery.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE reminders
		SET cancelled = TRUE, updated_at = now()
		WHERE id = $1;
    `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel reminder: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrReminderNotFound
	}

	return nil
}

// RecordAttempt appends one row to the delivery audit trail. Rows are
// insert-only; the attempt log is never updated in place.
func (r *Repository) RecordAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	query := `
		INSERT INTO reminder_delivery_attempts (
		    reminder_id, attempt_number, status, scheduled_for, attempted_at, error_message
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''));
    `

	_, err := r.db.ExecContext(
		ctx, query, a.ReminderID, a.AttemptNumber, a.Status, a.ScheduledFor, a.AttemptedAt, a.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	return nil
}

// LatestAttempt returns the most recent delivery attempt for a reminder.
func (r *Repository) LatestAttempt(ctx context.Context, id uuid.UUID) (model.DeliveryAttempt, error) {
	query := `
		SELECT reminder_id, attempt_number, status, scheduled_for, attempted_at, COALESCE(error_message, '')
		FROM reminder_delivery_attempts
		WHERE reminder_id = $1
		ORDER BY attempt_number DESC
		LIMIT 1;
    `

	var a model.DeliveryAttempt
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(
		&a.ReminderID, &a.AttemptNumber, &a.Status, &a.ScheduledFor, &a.AttemptedAt, &a.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeliveryAttempt{}, ErrNoAttempts
		}

		return model.DeliveryAttempt{}, fmt.Errorf("failed to get latest attempt: %w", err)
	}

	return a, nil
}

// ListAttempts returns the full audit trail for a reminder, oldest first.
func (r *Repository) ListAttempts(ctx context.Context, id uuid.UUID) ([]model.DeliveryAttempt, error) {
	query := `
		SELECT reminder_id, attempt_number, status, scheduled_for, attempted_at, COALESCE(error_message, '')
		FROM reminder_delivery_attempts
		WHERE reminder_id = $1
		ORDER BY attempt_number ASC;
    `

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.DeliveryAttempt
	for rows.Next() {
		var a model.DeliveryAttempt
		if err := rows.Scan(&a.ReminderID, &a.AttemptNumber, &a.Status, &a.ScheduledFor, &a.AttemptedAt, &a.ErrorMessage); err != nil {
			return nil, err
		}

		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// GetStatus derives the reminder's overall status from the cancelled flag
// and the latest attempt. Nothing is stored redundantly, so the derived
// value can never drift from the audit trail.
func (r *Repository) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	rem, err := r.GetReminder(ctx, id)
	if err != nil {
		return "", err
	}

	if rem.Cancelled {
		return model.StatusCancelled, nil
	}

	latest, err := r.LatestAttempt(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoAttempts) {
			return model.StatusPending, nil
		}

		return "", err
	}

	switch latest.Status {
	case model.AttemptSent:
		return model.StatusSent, nil
	case model.AttemptFailed:
		return model.StatusFailed, nil
	default:
		return model.StatusRetrying, nil
	}
}

// ListPending returns reminders that still await their first delivery
// attempt. Used to re-arm timers after a restart.
func (r *Repository) ListPending(ctx context.Context) ([]model.Reminder, error) {
	query := `
		SELECT r.id, r.task_id, r.title, r.message, r.channel, r."to", r.send_at, r.cancelled, r.created_at, r.updated_at
		FROM reminders r
		WHERE r.cancelled = FALSE
		  AND NOT EXISTS (
		      SELECT 1 FROM reminder_delivery_attempts a
		      WHERE a.reminder_id = r.id
		  )
		ORDER BY r.send_at ASC;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.Reminder
	for rows.Next() {
		var rem model.Reminder
		if err := rows.Scan(
			&rem.ID, &rem.TaskID, &rem.Title, &rem.Message, &rem.Channel,
			&rem.To, &rem.SendAt, &rem.Cancelled, &rem.CreatedAt, &rem.UpdatedAt,
		); err != nil {
			return nil, err
		}

		reminders = append(reminders, rem)
	}

	return reminders, rows.Err()
}
