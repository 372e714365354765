package reminder

import (
	"context"
	"errors"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/rabbitmq/queue"
	reminderrepo "github.com/taskwire/tasksync/internal/repository/reminder"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/rabbitmq/handlers/reminder/mock.go -package=mocks
type reminderService interface {
	Attempt(ctx context.Context, strategy retry.Strategy, msg queue.ReminderMessage) error
}

type Handler struct {
	service reminderService
}

func NewHandler(svc reminderService) *Handler {
	return &Handler{
		service: svc,
	}
}

// HandleMessage runs one delivery attempt for a consumed queue message.
// Outcome recording, backoff re-enqueueing and the 3-attempt budget all
// live in the service; this layer only reports.
func (h *Handler) HandleMessage(ctx context.Context, msg queue.ReminderMessage, strategy retry.Strategy) {
	zlog.Logger.Info().Msgf("Handle Message: reminder %s, attempt %d (scheduled for %v)", msg.ID, msg.Attempt, msg.ScheduledFor)

	select {
	case <-ctx.Done():
		zlog.Logger.Warn().Msgf("Handle Message: context cancelled before attempting %s", msg.ID)
		return
	default:
	}

	if err := h.service.Attempt(ctx, strategy, msg); err != nil {
		if errors.Is(err, reminderrepo.ErrReminderNotFound) {
			zlog.Logger.Warn().Interface("id", msg.ID).Err(err).Msg("reminder not found")
			return
		}

		zlog.Logger.Error().Err(err).Msgf("Handle Message: attempt %d for %s could not be processed", msg.Attempt, msg.ID)
		return
	}

	zlog.Logger.Info().Msgf("Handle Message: reminder %s attempt %d processed", msg.ID, msg.Attempt)
}
