package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/taskwire/tasksync/internal/api/handlers/events"
	"github.com/taskwire/tasksync/internal/api/handlers/reminder"
	syncapi "github.com/taskwire/tasksync/internal/api/handlers/sync"
	"github.com/taskwire/tasksync/internal/middlewares"
)

func New(rem *reminder.Handler, syn *syncapi.Handler, ev *events.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		reminders := api.Group("/reminders")
		{
			reminders.POST("/", rem.Create)
			reminders.GET("/:id", rem.GetStatus)
			reminders.GET("/:id/attempts", rem.GetAttempts)
			reminders.DELETE("/:id", rem.Cancel)
		}

		api.GET("/sync/poll", syn.Poll)
		api.POST("/events/task", ev.Ingest)
	}

	e.GET("/ws/sync", syn.ServeSyncWS)
	e.GET("/ws/notifications", syn.ServeNotifyWS)

	return e
}
