package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/model"
	"github.com/taskwire/tasksync/internal/rabbitmq/queue"
)

//go:generate mockgen -source=notifier.go -destination=../mocks/worker/mock.go -package=mocks
type reminderQueue interface {
	Consume(ctx context.Context, out chan<- queue.ReminderMessage, strategy retry.Strategy) error
}

type messageHandler interface {
	HandleMessage(ctx context.Context, msg queue.ReminderMessage, strategy retry.Strategy)
}

type reminderService interface {
	Status(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error)
}

// Notifier drains the deliver queue with a pool of workers, skipping
// reminders that were cancelled after their message was enqueued.
type Notifier struct {
	queue   reminderQueue
	handler messageHandler
	service reminderService
}

func NewNotifier(q reminderQueue, h messageHandler, s reminderService) *Notifier {
	return &Notifier{
		queue:   q,
		handler: h,
		service: s,
	}
}

func (n *Notifier) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	var wg sync.WaitGroup
	msgChan := make(chan queue.ReminderMessage, workerCount*10)

	go func() {
		if err := n.queue.Consume(ctx, msgChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume messages")
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				case msg, ok := <-msgChan:
					if !ok {
						zlog.Logger.Printf("worker-%d channel closed, shutting down", id)
						return
					}

					status, err := n.service.Status(ctx, strategy, msg.ID)
					if err != nil {
						zlog.Logger.Printf("failed to get status for %s: %v", msg.ID, err)
						continue
					}

					if status == model.StatusCancelled {
						zlog.Logger.Printf("reminder %s cancelled, skipping", msg.ID)
						continue
					}

					n.handler.HandleMessage(ctx, msg, strategy)
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("notifier stopped")
}
