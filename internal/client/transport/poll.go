package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/model"
)

// pollLoop fetches deltas on a fixed interval. It reuses the same event
// emission path as the push session, so downstream consumers stay
// transport-agnostic.
func (m *Manager) pollLoop(ctx context.Context) {
	zlog.Logger.Info().Dur("interval", m.cfg.PollInterval).Msg("sync running in polling mode")

	m.pollOnce(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce drains one delta, following has_more pages immediately.
func (m *Manager) pollOnce(ctx context.Context) {
	for {
		resp, err := m.fetchDelta(ctx, m.Watermark())
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			zlog.Logger.Warn().Err(err).Msg("poll fetch failed, will retry next interval")
			m.reportOnce(err)
			return
		}

		// The server clock drives the watermark even on empty responses;
		// building it from the client clock would open skew gaps.
		m.advanceWatermark(resp.Timestamp)

		for i := range resp.Tasks {
			m.bus.emit(Event{
				Type:      EventTaskUpdate,
				Timestamp: resp.Timestamp,
				Update: &model.TaskUpdateEvent{
					Event:     model.TaskUpdated,
					Task:      resp.Tasks[i],
					Timestamp: resp.Timestamp,
				},
			})
		}

		if !resp.HasMore {
			return
		}
	}
}

func (m *Manager) fetchDelta(ctx context.Context, since time.Time) (model.PollResponse, error) {
	u, err := url.Parse(m.cfg.PollURL)
	if err != nil {
		return model.PollResponse{}, fmt.Errorf("parse poll url: %w", err)
	}

	q := u.Query()
	if m.cfg.Token != "" {
		q.Set("token", m.cfg.Token)
	}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339Nano))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.PollResponse{}, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return model.PollResponse{}, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.PollResponse{}, fmt.Errorf("poll endpoint returned %s", resp.Status)
	}

	var delta model.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		return model.PollResponse{}, fmt.Errorf("decode poll response: %w", err)
	}

	return delta, nil
}
