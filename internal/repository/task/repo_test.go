package task

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/taskwire/tasksync/internal/model"
)

const deltaQuery = `
	SELECT id, title, COALESCE(description, ''), completed, COALESCE(priority, ''),
	       due_date, tags, recurrence, created_at, updated_at
	FROM tasks
	WHERE updated_at > $1
	ORDER BY updated_at ASC
	LIMIT $2;
`

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func taskColumns() []string {
	return []string{"id", "title", "description", "completed", "priority", "due_date", "tags", "recurrence", "created_at", "updated_at"}
}

func TestUpdatedSince(t *testing.T) {
	repo, mock := setupMockDB(t)

	since := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	now := since.Add(time.Minute)
	due := since.Add(24 * time.Hour)

	rows := sqlmock.NewRows(taskColumns()).
		AddRow("t1", "write report", "quarterly numbers", false, model.PriorityHigh,
			due, "{work,urgent}", []byte(`{"frequency":"weekly","interval":2}`), now, now).
		AddRow("t2", "buy milk", "", true, "",
			nil, "{}", nil, now, now.Add(time.Second))

	mock.ExpectQuery(regexp.QuoteMeta(deltaQuery)).
		WithArgs(since, 101).
		WillReturnRows(rows)

	tasks, hasMore, err := repo.UpdatedSince(context.Background(), since, 100)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, tasks, 2)

	first := tasks[0]
	assert.Equal(t, "t1", first.ID)
	assert.Equal(t, model.PriorityHigh, first.Priority)
	require.NotNil(t, first.DueDate)
	assert.Equal(t, due, first.DueDate.UTC())
	assert.Equal(t, []string{"work", "urgent"}, first.Tags)
	require.NotNil(t, first.Recurrence)
	assert.Equal(t, "weekly", first.Recurrence.Frequency)
	assert.Equal(t, 2, first.Recurrence.Interval)

	second := tasks[1]
	assert.True(t, second.Completed)
	assert.Nil(t, second.DueDate)
	assert.Nil(t, second.Recurrence)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatedSince_HasMore(t *testing.T) {
	repo, mock := setupMockDB(t)

	since := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	now := since.Add(time.Minute)

	// limit+1 rows come back: the extra one only signals a further page.
	rows := sqlmock.NewRows(taskColumns()).
		AddRow("t1", "a", "", false, "", nil, "{}", nil, now, now).
		AddRow("t2", "b", "", false, "", nil, "{}", nil, now, now.Add(time.Second)).
		AddRow("t3", "c", "", false, "", nil, "{}", nil, now, now.Add(2*time.Second))

	mock.ExpectQuery(regexp.QuoteMeta(deltaQuery)).
		WithArgs(since, 3).
		WillReturnRows(rows)

	tasks, hasMore, err := repo.UpdatedSince(context.Background(), since, 2)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[1].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatedSince_Empty(t *testing.T) {
	repo, mock := setupMockDB(t)

	since := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(deltaQuery)).
		WithArgs(since, 101).
		WillReturnRows(sqlmock.NewRows(taskColumns()))

	tasks, hasMore, err := repo.UpdatedSince(context.Background(), since, 100)
	assert.NoError(t, err)
	assert.False(t, hasMore)
	assert.Empty(t, tasks)

	assert.NoError(t, mock.ExpectationsWereMet())
}
