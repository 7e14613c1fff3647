package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trainingattend/internal/attendance"
	"trainingattend/internal/config"
	"trainingattend/internal/metrics"
	"trainingattend/internal/notify"
	"trainingattend/internal/queue"
	"trainingattend/internal/reminder"
	"trainingattend/internal/store"
)

// Worker delivers queued notifications and runs the reminder sweeps on schedule.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var source interface {
		attendance.ReminderSource
		attendance.Directory
	}
	if cfg.StoreBackend == "memory" {
		// only useful for a smoke run: the api process has its own memory
		log.Println("[worker] WARNING: memory store has no shared state with the api")
		source = attendance.NewMemoryStore()
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		source = attendance.NewRepository(db.Client)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		redisClient, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Printf("[worker] WARNING: redis at %s not reachable, will keep retrying", cfg.RedisAddr)
		}
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	metrics.RegisterQueueDepth(queueDepth(q))

	renderer, err := notify.NewRenderer(cfg.NotifyFrom, cfg.NotifySignoff)
	if err != nil {
		log.Fatalf("templates: %v", err)
	}
	var out notify.Deliverer = notify.LogSink{}
	if cfg.NotifyGatewayURL != "" {
		gw := notify.NewGateway(cfg.NotifyGatewayURL, renderer, cfg.NotifyTimeout)
		// Check mail gateway health on startup
		if err := gw.Health(ctx); err != nil {
			log.Printf("[worker] WARNING: mail gateway not available: %v", err)
		} else {
			log.Println("[worker] mail gateway connected")
		}
		out = gw
	} else {
		log.Println("[worker] NOTIFY_GATEWAY_URL not set, notifications are logged only")
	}

	// Sweeps enqueue like the api does, so every notification goes through one dispatcher.
	sweeper := reminder.NewSweeper(source, source, notify.NewQueueNotifier(q)).
		WithSendTimeout(cfg.Reminder.SendTimeout)
	runner, err := reminder.NewRunner(sweeper, reminder.Schedule{
		SessionSpec:     cfg.Reminder.SessionCron,
		DeclarationSpec: cfg.Reminder.DeclarationCron,
		Lookahead:       cfg.Reminder.Lookahead,
		Lookback:        cfg.Reminder.Lookback,
	}, time.Now, nil)
	if err != nil {
		log.Fatalf("reminder schedule: %v", err)
	}
	runner.Start()

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[worker] metrics server: %v", err)
		}
	}()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("[worker] started, waiting for messages...")
	delivered, failed := notify.NewDispatcher(renderer, out, cfg.NotifyTimeout, nil).Run(ctx, messages)
	log.Printf("[worker] dispatcher stopped: delivered=%d failed=%d", delivered, failed)

	stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	runner.Stop(stopCtx)
	_ = metricsSrv.Shutdown(stopCtx)
	log.Println("[worker] stopped")
}

// queueDepth reads the queue length for the depth gauge.
func queueDepth(q queue.Queue) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := q.Len(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}
}
