package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/api/respond"
	"github.com/taskwire/tasksync/internal/config"
	"github.com/taskwire/tasksync/internal/model"
	reminderrepo "github.com/taskwire/tasksync/internal/repository/reminder"
)

// reminderService defines the interface that the Handler depends on.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/reminder/mock.go -package=mocks
type reminderService interface {
	Create(context.Context, retry.Strategy, model.Reminder) (uuid.UUID, error)
	Status(context.Context, retry.Strategy, uuid.UUID) (string, error)
	Attempts(context.Context, uuid.UUID) ([]model.DeliveryAttempt, error)
	Cancel(context.Context, retry.Strategy, uuid.UUID) error
}

// Handler handles HTTP requests related to reminders: scheduling,
// status lookups, the delivery audit trail and cancellation.
type Handler struct {
	service   reminderService
	validator *validator.Validate
	cfg       *config.Config
}

func NewHandler(
	s reminderService,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// CreateRequest represents the JSON body expected when scheduling a reminder.
type CreateRequest struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title" validate:"required"`
	Message string `json:"message" validate:"required"`
	SendAt  string `json:"send_at" validate:"required"` // RFC 3339
	Channel string `json:"channel" validate:"required,oneof=email telegram push"`
	To      string `json:"to" validate:"required"`
}

// Create handles POST /api/reminders.
func (h *Handler) Create(c *ginext.Context) {
	var req CreateRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	sendAt, err := time.Parse(time.RFC3339, req.SendAt)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to parse send_at time")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid send_at format, want RFC 3339"))
		return
	}

	rem := model.Reminder{
		TaskID:  req.TaskID,
		Title:   req.Title,
		Message: req.Message,
		Channel: req.Channel,
		To:      req.To,
		SendAt:  sendAt.UTC(),
	}

	id, err := h.service.Create(c.Request.Context(), h.cfg.Retry, rem)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("title", rem.Title).Msg("failed to create reminder")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, id)
}

// GetStatus handles GET /api/reminders/:id.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	status, err := h.service.Status(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, reminderrepo.ErrReminderNotFound) {
			zlog.Logger.Warn().Interface("id", id).Err(err).Msg("reminder not found")
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("reminder not found"))
			return
		}

		zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to get reminder status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, status)
}

// GetAttempts handles GET /api/reminders/:id/attempts and returns the
// append-only delivery audit trail, oldest attempt first.
func (h *Handler) GetAttempts(c *ginext.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	attempts, err := h.service.Attempts(c.Request.Context(), id)
	if err != nil {
		zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to list delivery attempts")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, attempts)
}

// Cancel handles DELETE /api/reminders/:id.
func (h *Handler) Cancel(c *ginext.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	err := h.service.Cancel(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, reminderrepo.ErrReminderNotFound) {
			zlog.Logger.Warn().Interface("id", id).Err(err).Msg("reminder not found")
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("reminder not found"))
			return
		}

		zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to cancel reminder")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "reminder cancelled")
}

func (h *Handler) parseID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Interface("idStr", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}

	if id == uuid.Nil {
		zlog.Logger.Warn().Msg("missing id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing id"))
		return uuid.Nil, false
	}

	return id, true
}
