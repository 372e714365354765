package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"

	mocks "github.com/taskwire/tasksync/internal/mocks/rabbitmq/handlers/reminder"
	"github.com/taskwire/tasksync/internal/rabbitmq/queue"
	reminderrepo "github.com/taskwire/tasksync/internal/repository/reminder"
)

func TestHandler_HandleMessage_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := mocks.NewMockreminderService(ctrl)
	h := NewHandler(mockService)

	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 1, ScheduledFor: time.Now()}
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	mockService.EXPECT().Attempt(gomock.Any(), strategy, msg).Return(nil)

	h.HandleMessage(context.Background(), msg, strategy)
}

func TestHandler_HandleMessage_AttemptFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := mocks.NewMockreminderService(ctrl)
	h := NewHandler(mockService)

	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 2, ScheduledFor: time.Now()}
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	// The error is logged and swallowed: a broken attempt must not crash
	// the consumer loop.
	mockService.EXPECT().Attempt(gomock.Any(), strategy, msg).Return(errors.New("attempt error"))

	h.HandleMessage(context.Background(), msg, strategy)
}

func TestHandler_HandleMessage_ReminderNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := mocks.NewMockreminderService(ctrl)
	h := NewHandler(mockService)

	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 1, ScheduledFor: time.Now()}
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	mockService.EXPECT().Attempt(gomock.Any(), strategy, msg).Return(reminderrepo.ErrReminderNotFound)

	h.HandleMessage(context.Background(), msg, strategy)
}

func TestHandler_HandleMessage_ContextCanceled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := mocks.NewMockreminderService(ctrl)
	h := NewHandler(mockService)

	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 1, ScheduledFor: time.Now()}
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No Attempt expectation: a cancelled context skips the delivery.
	h.HandleMessage(ctx, msg, strategy)
}
