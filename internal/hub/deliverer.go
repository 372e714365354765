package hub

import (
	"context"
	"time"

	"github.com/taskwire/tasksync/internal/model"
)

// Deliverer adapts the notification hub to the delivery collaborator
// contract, making "push" a reminder channel alongside email and telegram.
type Deliverer struct {
	hub *Hub
}

func NewDeliverer(h *Hub) *Deliverer {
	return &Deliverer{hub: h}
}

// Deliver broadcasts a reminder event on the notification channel.
func (d *Deliverer) Deliver(_ context.Context, alert model.Alert) error {
	return d.hub.Broadcast(model.NotificationEvent{
		Type: model.NotifyReminder,
		Data: model.NotificationData{
			TaskID:    alert.TaskID,
			Title:     alert.Title,
			Message:   alert.Message,
			Timestamp: time.Now().UTC(),
		},
	})
}
