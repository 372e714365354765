package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/model"
	"github.com/taskwire/tasksync/internal/rabbitmq/queue"
	reminderrepo "github.com/taskwire/tasksync/internal/repository/reminder"
)

// deliveryTimeout bounds a single attempt against a delivery collaborator.
// A timed-out attempt counts against the retry budget like any failure.
const deliveryTimeout = 30 * time.Second

//go:generate mockgen -source=service.go -destination=../../mocks/service/reminder/mock.go -package=mocks

type reminderPublisher interface {
	Publish(msg queue.ReminderMessage, strategy retry.Strategy) error
	PublishRetry(msg queue.ReminderMessage, strategy retry.Strategy) error
}

type reminderRepository interface {
	CreateReminder(context.Context, model.Reminder) (uuid.UUID, error)
	GetReminder(context.Context, uuid.UUID) (model.Reminder, error)
	Cancel(context.Context, uuid.UUID) error
	RecordAttempt(context.Context, model.DeliveryAttempt) error
	LatestAttempt(context.Context, uuid.UUID) (model.DeliveryAttempt, error)
	ListAttempts(context.Context, uuid.UUID) ([]model.DeliveryAttempt, error)
	GetStatus(context.Context, uuid.UUID) (string, error)
	ListPending(context.Context) ([]model.Reminder, error)
}

// Deliverer is the delivery collaborator capability: binary outcome, no
// knowledge of the underlying transport.
type Deliverer interface {
	Deliver(ctx context.Context, alert model.Alert) error
}

type reminderScheduler interface {
	Schedule(id uuid.UUID, at time.Time, fire func())
	Cancel(id uuid.UUID)
}

type statusCache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

type Service struct {
	repo       reminderRepository
	queue      reminderPublisher
	deliverers map[string]Deliverer
	sched      reminderScheduler
	cache      statusCache
}

func NewService(
	repo reminderRepository,
	queue reminderPublisher,
	deliverers map[string]Deliverer,
	sched reminderScheduler,
	cache statusCache,
) *Service {
	return &Service{repo: repo, queue: queue, deliverers: deliverers, sched: sched, cache: cache}
}

// Create persists a reminder and arms its delivery timer. The timer fires
// the first attempt at send_at by enqueueing a message on the deliver queue.
func (s *Service) Create(ctx context.Context, strategy retry.Strategy, rem model.Reminder) (uuid.UUID, error) {
	id, err := s.repo.CreateReminder(ctx, rem)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create reminder: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), model.StatusPending); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache reminder status")
	}

	s.arm(id, rem.SendAt, strategy)

	return id, nil
}

// RestorePending re-arms timers for reminders that never got a first
// attempt, e.g. after a restart.
func (s *Service) RestorePending(ctx context.Context, strategy retry.Strategy) error {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending reminders: %w", err)
	}

	for _, rem := range pending {
		s.arm(rem.ID, rem.SendAt, strategy)
	}

	zlog.Logger.Info().Int("count", len(pending)).Msg("re-armed pending reminders")
	return nil
}

func (s *Service) arm(id uuid.UUID, at time.Time, strategy retry.Strategy) {
	s.sched.Schedule(id, at, func() {
		msg := queue.ReminderMessage{ID: id, Attempt: 1, ScheduledFor: at}
		if err := s.queue.Publish(msg, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to publish reminder")
		}
	})
}

// Cancel marks a reminder cancelled and disarms its timer. Messages already
// in flight are skipped by the worker's status check.
func (s *Service) Cancel(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}

	s.sched.Cancel(id)

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), model.StatusCancelled); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache reminder status")
	}

	return nil
}

// Status returns the reminder's derived status, preferring the cache and
// falling back to the attempt log.
func (s *Service) Status(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error) {
	status, err := s.cache.GetWithRetry(ctx, strategy, id.String())
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get reminder status from cache")
	}

	if err != nil || status == "" {
		status, err = s.repo.GetStatus(ctx, id)
		if err != nil {
			return "", fmt.Errorf("get reminder status: %w", err)
		}

		if err := s.cache.SetWithRetry(ctx, strategy, id.String(), status); err != nil {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache reminder status")
		}
	}

	return status, nil
}

// Attempts returns the reminder's delivery audit trail.
func (s *Service) Attempts(ctx context.Context, id uuid.UUID) ([]model.DeliveryAttempt, error) {
	attempts, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	return attempts, nil
}

// Attempt executes one delivery attempt for a queued message and records
// its outcome. It is the single entry point the worker calls.
//
// The scheduling facility is at-least-once, so a message may arrive for a
// reminder that is already settled: the latest recorded attempt decides
// whether the fire is a no-op.
func (s *Service) Attempt(ctx context.Context, strategy retry.Strategy, msg queue.ReminderMessage) error {
	latest, err := s.repo.LatestAttempt(ctx, msg.ID)
	if err != nil && !errors.Is(err, reminderrepo.ErrNoAttempts) {
		// fall through: an unreadable log must not drop the delivery
		zlog.Logger.Error().Err(err).Str("id", msg.ID.String()).Msg("failed to read attempt log")
	}

	if err == nil {
		if latest.Status == model.AttemptSent || latest.Status == model.AttemptFailed {
			zlog.Logger.Info().Str("id", msg.ID.String()).Str("status", latest.Status).Msg("reminder already settled, skipping")
			return nil
		}

		if latest.AttemptNumber >= msg.Attempt {
			zlog.Logger.Info().Str("id", msg.ID.String()).Int("attempt", msg.Attempt).Msg("duplicate delivery fire, skipping")
			return nil
		}
	}

	rem, err := s.repo.GetReminder(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get reminder: %w", err)
	}

	alert := model.Alert{
		ReminderID: rem.ID,
		TaskID:     rem.TaskID,
		Title:      rem.Title,
		Message:    rem.Message,
		To:         rem.To,
	}

	deliverErr := s.deliver(ctx, rem.Channel, alert)
	now := time.Now().UTC()

	if deliverErr == nil {
		return s.settle(ctx, strategy, model.DeliveryAttempt{
			ReminderID:    msg.ID,
			AttemptNumber: msg.Attempt,
			Status:        model.AttemptSent,
			ScheduledFor:  msg.ScheduledFor,
			AttemptedAt:   now,
		}, model.StatusSent)
	}

	zlog.Logger.Warn().Err(deliverErr).
		Str("id", msg.ID.String()).
		Int("attempt", msg.Attempt).
		Msg("delivery attempt failed")

	if msg.Attempt < model.MaxDeliveryAttempts {
		if err := s.settle(ctx, strategy, model.DeliveryAttempt{
			ReminderID:    msg.ID,
			AttemptNumber: msg.Attempt,
			Status:        model.AttemptRetrying,
			ScheduledFor:  msg.ScheduledFor,
			AttemptedAt:   now,
			ErrorMessage:  deliverErr.Error(),
		}, model.StatusRetrying); err != nil {
			return err
		}

		next := queue.ReminderMessage{
			ID:           msg.ID,
			Attempt:      msg.Attempt + 1,
			ScheduledFor: now.Add(backoffAfter(msg.Attempt)),
		}

		if err := s.queue.PublishRetry(next, strategy); err != nil {
			return fmt.Errorf("publish retry: %w", err)
		}

		return nil
	}

	// Third failure is terminal and user-visible; reminders never fail
	// silently.
	return s.settle(ctx, strategy, model.DeliveryAttempt{
		ReminderID:    msg.ID,
		AttemptNumber: msg.Attempt,
		Status:        model.AttemptFailed,
		ScheduledFor:  msg.ScheduledFor,
		AttemptedAt:   now,
		ErrorMessage:  deliverErr.Error(),
	}, model.StatusFailed)
}

func (s *Service) settle(ctx context.Context, strategy retry.Strategy, a model.DeliveryAttempt, status string) error {
	if err := s.repo.RecordAttempt(ctx, a); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, a.ReminderID.String(), status); err != nil {
		zlog.Logger.Error().Err(err).Str("id", a.ReminderID.String()).Msg("failed to cache reminder status")
	}

	return nil
}

func (s *Service) deliver(ctx context.Context, channel string, alert model.Alert) error {
	d, ok := s.deliverers[channel]
	if !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.Deliver(ctx, alert)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery timed out: %w", ctx.Err())
	}
}

// backoffAfter returns the spacing before the attempt following the given
// one: 5 minutes after attempt 1, 15 minutes after attempt 2.
func backoffAfter(attempt int) time.Duration {
	if attempt <= 1 {
		return 5 * time.Minute
	}
	return 15 * time.Minute
}
