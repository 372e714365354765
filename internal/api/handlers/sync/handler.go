package sync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/api/respond"
	"github.com/taskwire/tasksync/internal/config"
	"github.com/taskwire/tasksync/internal/model"
)

// taskSource reads task deltas for the polling fallback. Task persistence
// itself belongs to the CRUD collaborator.
type taskSource interface {
	UpdatedSince(ctx context.Context, since time.Time, limit int) ([]model.TaskSnapshot, bool, error)
}

// channelHub is the server-push side of one websocket channel.
type channelHub interface {
	HandleUpgrade(w http.ResponseWriter, r *http.Request) error
}

// Handler serves the polling fallback endpoint and the two websocket
// channels (task sync and notifications).
type Handler struct {
	tasks     taskSource
	syncHub   channelHub
	notifyHub channelHub
	cfg       *config.Config
}

func NewHandler(tasks taskSource, syncHub, notifyHub channelHub, cfg *config.Config) *Handler {
	return &Handler{tasks: tasks, syncHub: syncHub, notifyHub: notifyHub, cfg: cfg}
}

// Poll handles GET /api/sync/poll?since=<RFC 3339>.
//
// The response timestamp is the server clock and must be used as the next
// "since" value even when the task list is empty, so clients never build
// watermarks from their own (possibly skewed) clocks.
func (h *Handler) Poll(c *ginext.Context) {
	var since time.Time

	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("since", raw).Msg("failed to parse since")
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid since format, want RFC 3339"))
			return
		}
		since = parsed.UTC()
	}

	limit := h.cfg.Sync.PollLimit
	if limit <= 0 {
		limit = 100
	}

	tasks, hasMore, err := h.tasks.UpdatedSince(c.Request.Context(), since, limit)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to fetch task delta")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	if tasks == nil {
		tasks = []model.TaskSnapshot{}
	}

	respond.JSON(c.Writer, http.StatusOK, model.PollResponse{
		Timestamp: time.Now().UTC(),
		Tasks:     tasks,
		HasMore:   hasMore,
	})
}

// ServeSyncWS handles GET /ws/sync.
func (h *Handler) ServeSyncWS(c *ginext.Context) {
	h.upgrade(c, h.syncHub)
}

// ServeNotifyWS handles GET /ws/notifications.
func (h *Handler) ServeNotifyWS(c *ginext.Context) {
	h.upgrade(c, h.notifyHub)
}

// upgrade authenticates the connection token and hands the request to the
// hub. The token travels as a query parameter because this class of channel
// cannot inject headers.
func (h *Handler) upgrade(c *ginext.Context, hub channelHub) {
	if token := c.Query("token"); token != h.cfg.Auth.Token {
		zlog.Logger.Warn().Msg("websocket connection rejected: bad token")
		respond.Fail(c.Writer, http.StatusUnauthorized, fmt.Errorf("invalid token"))
		return
	}

	if err := hub.HandleUpgrade(c.Writer, c.Request); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to upgrade websocket")
	}
}
