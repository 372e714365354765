package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/taskwire/tasksync/internal/model"
)

// Repository reads task snapshots for the polling fallback endpoint. Task
// writes belong to the CRUD service; this side only ever fetches deltas.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new task repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// UpdatedSince returns up to limit tasks modified after the given watermark,
// oldest first, plus a flag indicating whether more rows remain.
func (r *Repository) UpdatedSince(ctx context.Context, since time.Time, limit int) ([]model.TaskSnapshot, bool, error) {
	query := `
		SELECT id, title, COALESCE(description, ''), completed, COALESCE(priority, ''),
		       due_date, tags, recurrence, created_at, updated_at
		FROM tasks
		WHERE updated_at > $1
		ORDER BY updated_at ASC
		LIMIT $2;
    `

	// Fetch one extra row to detect a further page.
	rows, err := r.db.QueryContext(ctx, query, since, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch task delta: %w", err)
	}
	defer rows.Close()

	var tasks []model.TaskSnapshot
	for rows.Next() {
		var (
			t          model.TaskSnapshot
			dueDate    sql.NullTime
			recurrence []byte
		)

		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.Completed, &t.Priority,
			&dueDate, pq.Array(&t.Tags), &recurrence, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, false, err
		}

		if dueDate.Valid {
			d := dueDate.Time
			t.DueDate = &d
		}

		if len(recurrence) > 0 {
			var rec model.Recurrence
			if err := json.Unmarshal(recurrence, &rec); err != nil {
				return nil, false, fmt.Errorf("failed to decode recurrence for task %s: %w", t.ID, err)
			}
			t.Recurrence = &rec
		}

		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(tasks) > limit
	if hasMore {
		tasks = tasks[:limit]
	}

	return tasks, hasMore, nil
}
