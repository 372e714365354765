package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	eventsapi "github.com/taskwire/tasksync/internal/api/handlers/events"
	reminderapi "github.com/taskwire/tasksync/internal/api/handlers/reminder"
	syncapi "github.com/taskwire/tasksync/internal/api/handlers/sync"
	"github.com/taskwire/tasksync/internal/api/router"
	"github.com/taskwire/tasksync/internal/api/server"
	"github.com/taskwire/tasksync/internal/config"
	"github.com/taskwire/tasksync/internal/hub"
	"github.com/taskwire/tasksync/internal/model"
	remindmsg "github.com/taskwire/tasksync/internal/rabbitmq/handlers/reminder"
	"github.com/taskwire/tasksync/internal/rabbitmq/queue"
	remindrepo "github.com/taskwire/tasksync/internal/repository/reminder"
	taskrepo "github.com/taskwire/tasksync/internal/repository/task"
	"github.com/taskwire/tasksync/internal/scheduler"
	remindsvc "github.com/taskwire/tasksync/internal/service/reminder"
	"github.com/taskwire/tasksync/internal/worker"
	"github.com/taskwire/tasksync/pkg/email"
	"github.com/taskwire/tasksync/pkg/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewReminderQueue(ch)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create reminder queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	reminders := remindrepo.NewRepository(db)
	tasks := taskrepo.NewRepository(db)

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// One hub per channel: notification back-pressure must never block
	// task sync.
	syncHub := hub.New("sync", cfg.Sync.HeartbeatInterval,
		func(connectionID string) interface{} {
			return model.PushEnvelope{
				Type:         model.PushConnected,
				Timestamp:    time.Now().UTC(),
				ConnectionID: connectionID,
			}
		},
		func() interface{} {
			return model.PushEnvelope{Type: model.PushHeartbeat, Timestamp: time.Now().UTC()}
		},
	)
	notifyHub := hub.New("notifications", cfg.Sync.HeartbeatInterval,
		func(connectionID string) interface{} {
			return model.NotificationEvent{
				Type: model.NotifyConnected,
				Data: model.NotificationData{Timestamp: time.Now().UTC(), ConnectionID: connectionID},
			}
		},
		func() interface{} {
			return model.NotificationEvent{
				Type: model.NotifyHeartbeat,
				Data: model.NotificationData{Timestamp: time.Now().UTC()},
			}
		},
	)
	go syncHub.Run(ctx)
	go notifyHub.Run(ctx)

	smtpPort, err := strconv.Atoi(cfg.Email.SMTPPort)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse email smtp port")
	}

	emailClient := email.NewClient(
		cfg.Email.SMTPHost,
		smtpPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
	)
	telegramClient := telegram.NewClient(cfg.Telegram.Token)

	deliverers := map[string]remindsvc.Deliverer{
		"email":    emailClient,
		"telegram": telegramClient,
		"push":     hub.NewDeliverer(notifyHub),
	}

	sched := scheduler.New()
	service := remindsvc.NewService(reminders, q, deliverers, sched, rdb)

	if err := service.RestorePending(ctx, cfg.Retry); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to restore pending reminders")
	}

	remindHandler := reminderapi.NewHandler(service, val, cfg)
	syncHandler := syncapi.NewHandler(tasks, syncHub, notifyHub, cfg)
	eventsHandler := eventsapi.NewHandler(syncHub)
	messageHandler := remindmsg.NewHandler(service)

	notifier := worker.NewNotifier(q, messageHandler, service)

	go notifier.Run(ctx, cfg.Retry, cfg.Workers.Count)

	r := router.New(remindHandler, syncHandler, eventsHandler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	sched.Stop()

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
