// taskwatch keeps a local task collection in sync with a syncd server and
// logs reminder alerts as they arrive. It is mostly a demonstration of the
// client stack: transport manager, reconciler and notification surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/zlog"

	"github.com/taskwire/tasksync/internal/client/notify"
	"github.com/taskwire/tasksync/internal/client/reconcile"
	"github.com/taskwire/tasksync/internal/client/transport"
	"github.com/taskwire/tasksync/internal/model"
)

func main() {
	_ = godotenv.Load()
	zlog.Init()

	server := flag.String("server", envOr("SYNC_SERVER", "http://localhost:8080"), "syncd base URL")
	token := flag.String("token", os.Getenv("AUTH_TOKEN"), "connection token")
	flag.Parse()

	base := strings.TrimSuffix(*server, "/")
	wsBase := strings.Replace(strings.Replace(base, "https://", "wss://", 1), "http://", "ws://", 1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := transport.New(transport.Config{
		PushURL: wsBase + "/ws/sync",
		PollURL: base + "/api/sync/poll",
		Token:   *token,
	})
	collection := reconcile.NewCollection()

	// Single state-mutation entry point: every task update, push or
	// polled, flows through the reconciler.
	defer manager.On(transport.EventTaskUpdate, func(ev transport.Event) {
		if ev.Update == nil {
			return
		}
		collection.Apply(*ev.Update)
		zlog.Logger.Info().
			Str("event", ev.Update.Event).
			Str("task_id", ev.Update.Task.ID).
			Int("tasks", collection.Len()).
			Msg("task update reconciled")
	})()

	defer manager.On(transport.EventConnected, func(transport.Event) {
		zlog.Logger.Info().Msg("sync channel connected")
	})()
	defer manager.On(transport.EventError, func(ev transport.Event) {
		zlog.Logger.Warn().Err(ev.Err).Msg("sync transport error")
	})()

	surface := notify.New(notify.Config{
		URL:   wsBase + "/ws/notifications",
		Token: *token,
	})
	defer surface.On(model.NotifyReminder, func(ev model.NotificationEvent) {
		zlog.Logger.Info().
			Str("task_id", ev.Data.TaskID).
			Str("title", ev.Data.Title).
			Msg(ev.Data.Message)
	})()

	if err := manager.Start(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start transport")
	}
	if err := surface.Start(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start notification surface")
	}

	<-ctx.Done()

	surface.Stop()
	manager.Stop()

	fmt.Printf("stopped with %d tasks in view (transport %s)\n", collection.Len(), manager.State())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
