package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"

	mocks "github.com/taskwire/tasksync/internal/mocks/worker"
	"github.com/taskwire/tasksync/internal/model"
	"github.com/taskwire/tasksync/internal/rabbitmq/queue"
)

func setupNotifier(t *testing.T) (*Notifier, *mocks.MockreminderQueue, *mocks.MockmessageHandler, *mocks.MockreminderService) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockQueue := mocks.NewMockreminderQueue(ctrl)
	mockHandler := mocks.NewMockmessageHandler(ctrl)
	mockService := mocks.NewMockreminderService(ctrl)

	return NewNotifier(mockQueue, mockHandler, mockService), mockQueue, mockHandler, mockService
}

func TestNotifier_Run_HandlesMessage(t *testing.T) {
	n, mockQueue, mockHandler, mockService := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 1, ScheduledFor: time.Now()}

	handled := make(chan struct{})

	mockQueue.EXPECT().Consume(gomock.Any(), gomock.Any(), strategy).DoAndReturn(
		func(_ context.Context, out chan<- queue.ReminderMessage, _ retry.Strategy) error {
			out <- msg
			return nil
		},
	)
	mockService.EXPECT().Status(gomock.Any(), strategy, msg.ID).Return(model.StatusPending, nil)
	mockHandler.EXPECT().HandleMessage(gomock.Any(), msg, strategy).Do(
		func(context.Context, queue.ReminderMessage, retry.Strategy) {
			close(handled)
		},
	)

	go n.Run(ctx, strategy, 1)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("message never reached the handler")
	}
	cancel()
}

func TestNotifier_Run_SkipsCancelledReminder(t *testing.T) {
	n, mockQueue, _, mockService := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 1}

	checked := make(chan struct{})

	mockQueue.EXPECT().Consume(gomock.Any(), gomock.Any(), strategy).DoAndReturn(
		func(_ context.Context, out chan<- queue.ReminderMessage, _ retry.Strategy) error {
			out <- msg
			return nil
		},
	)
	// No HandleMessage expectation: cancelled reminders never reach it.
	mockService.EXPECT().Status(gomock.Any(), strategy, msg.ID).DoAndReturn(
		func(context.Context, retry.Strategy, uuid.UUID) (string, error) {
			close(checked)
			return model.StatusCancelled, nil
		},
	)

	go n.Run(ctx, strategy, 1)

	select {
	case <-checked:
	case <-time.After(time.Second):
		t.Fatal("status was never checked")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
}

func TestNotifier_Run_StatusError(t *testing.T) {
	n, mockQueue, _, mockService := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	msg := queue.ReminderMessage{ID: uuid.New(), Attempt: 1}

	checked := make(chan struct{})

	mockQueue.EXPECT().Consume(gomock.Any(), gomock.Any(), strategy).DoAndReturn(
		func(_ context.Context, out chan<- queue.ReminderMessage, _ retry.Strategy) error {
			out <- msg
			return nil
		},
	)
	mockService.EXPECT().Status(gomock.Any(), strategy, msg.ID).DoAndReturn(
		func(context.Context, retry.Strategy, uuid.UUID) (string, error) {
			close(checked)
			return "", errors.New("redis down")
		},
	)

	go n.Run(ctx, strategy, 1)

	select {
	case <-checked:
	case <-time.After(time.Second):
		t.Fatal("status was never checked")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
}

func TestNotifier_Run_StopsOnContextCancel(t *testing.T) {
	n, mockQueue, _, _ := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	// The consumer must see the run context so cancellation releases its
	// decode goroutine too.
	mockQueue.EXPECT().Consume(gomock.Any(), gomock.Any(), strategy).DoAndReturn(
		func(ctx context.Context, _ chan<- queue.ReminderMessage, _ retry.Strategy) error {
			<-ctx.Done()
			return nil
		},
	)

	stopped := make(chan struct{})
	go func() {
		n.Run(ctx, strategy, 2)
		close(stopped)
	}()

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop on context cancel")
	}
}
