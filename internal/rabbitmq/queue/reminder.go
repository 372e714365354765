package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/model"
)

const (
	ExchangeName     = "remind-exchange"
	DeliverQueueName = "remind-deliver"
	RetryShortQueue  = "remind-retry-5m"
	RetryLongQueue   = "remind-retry-15m"
	DLQName          = "remind-dlq"

	DeliverKey    = "deliver"
	RetryShortKey = "retry-5m"
	RetryLongKey  = "retry-15m"
)

// Fixed backoff spacing between delivery attempts. Attempt 2 fires five
// minutes after a failed attempt 1, attempt 3 fifteen minutes after a
// failed attempt 2.
const (
	retryShortTTL = 5 * time.Minute
	retryLongTTL  = 15 * time.Minute
)

// ReminderMessage is the unit of work flowing through the delivery queues.
type ReminderMessage struct {
	ID           uuid.UUID `json:"id"`
	Attempt      int       `json:"attempt"` // 1..model.MaxDeliveryAttempts
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ReminderQueue wires the delivery topology: a main deliver queue, two
// fixed-TTL retry queues that dead-letter back into it, and a DLQ for
// messages the main queue rejects.
type ReminderQueue struct {
	Publisher *rabbitmq.Publisher
	Consumer  *rabbitmq.Consumer
}

func NewReminderQueue(ch *rabbitmq.Channel) (*ReminderQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	// Messages sit in a retry queue until their TTL lapses, then the
	// broker dead-letters them back into the deliver queue. The broker is
	// the "fire later" facility here; it guarantees at-least-once, so the
	// consumer checks the attempt log before delivering.
	for name, ttl := range map[string]time.Duration{
		RetryShortQueue: retryShortTTL,
		RetryLongQueue:  retryLongTTL,
	} {
		retryArgs := map[string]interface{}{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeliverQueueName,
			"x-message-ttl":             int32(ttl / time.Millisecond),
		}

		q, err := qm.DeclareQueue(name, rabbitmq.QueueConfig{
			Durable: true,
			Args:    retryArgs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to declare retry queue %s: %w", name, err)
		}

		key := RetryShortKey
		if name == RetryLongQueue {
			key = RetryLongKey
		}

		if err := ch.QueueBind(q.Name, key, exchange.Name(), false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind retry queue %s: %w", name, err)
		}
	}

	mainArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName,
	}

	mainQ, err := qm.DeclareQueue(DeliverQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    mainArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare deliver queue: %w", err)
	}

	if err := ch.QueueBind(mainQ.Name, DeliverKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the deliver queue: %w", err)
	}

	pub := rabbitmq.NewPublisher(ch, exchange.Name())
	cons := rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(mainQ.Name))

	return &ReminderQueue{Publisher: pub, Consumer: cons}, nil
}

// Publish enqueues a message for immediate delivery.
func (q *ReminderQueue) Publish(msg ReminderMessage, strategy retry.Strategy) error {
	return q.publish(msg, DeliverKey, strategy)
}

// PublishRetry enqueues a message on the retry queue matching its attempt
// number: attempt 2 waits five minutes, attempt 3 waits fifteen.
func (q *ReminderQueue) PublishRetry(msg ReminderMessage, strategy retry.Strategy) error {
	key := RetryShortKey
	if msg.Attempt >= model.MaxDeliveryAttempts {
		key = RetryLongKey
	}

	return q.publish(msg, key, strategy)
}

func (q *ReminderQueue) publish(msg ReminderMessage, key string, strategy retry.Strategy) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.Publisher.PublishWithRetry(body, key, "application/json", strategy)
}

// Consume decodes deliver-queue messages into out until the underlying
// consumer stops or ctx is cancelled. Malformed payloads are logged and
// dropped.
func (q *ReminderQueue) Consume(ctx context.Context, out chan<- ReminderMessage, strategy retry.Strategy) error {
	msgChan := make(chan []byte)

	go func() {
		for m := range msgChan {
			var msg ReminderMessage
			if err := json.Unmarshal(m, &msg); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal message")
				continue
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return q.Consumer.ConsumeWithRetry(msgChan, strategy)
}
