package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trainingattend/internal/attendance"
	"trainingattend/internal/auth"
	"trainingattend/internal/config"
	"trainingattend/internal/handler"
	"trainingattend/internal/httpmiddleware"
	"trainingattend/internal/notify"
	"trainingattend/internal/queue"
	"trainingattend/internal/reminder"
	"trainingattend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Set Gin mode based on environment
	if !cfg.Dev() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// backend is what both Store implementations provide.
type backend interface {
	attendance.Store
	attendance.People
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.HealthCheck{}

	var data backend
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory store; data is lost on restart")
		data = attendance.NewMemoryStore()
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		checks["db"] = db.Healthy
		data = attendance.NewRepository(db.Client)
	}

	renderer, err := notify.NewRenderer(cfg.NotifyFrom, cfg.NotifySignoff)
	if err != nil {
		return err
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		q = mem
		// nothing else can drain an in-process queue, so deliver from here
		go runDispatcher(ctx, cfg, renderer, mem)
	} else {
		redisClient, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checks["redis"] = redisClient.Healthy
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}
	notifier := notify.NewQueueNotifier(q)

	svc := attendance.NewService(data, data, notifier, time.Now).WithSendTimeout(cfg.NotifyTimeout)
	sweeper := reminder.NewSweeper(data, data, notifier).WithSendTimeout(cfg.Reminder.SendTimeout)
	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer)

	h := handler.New(svc, sweeper, signer, handler.Options{
		CheckInTTL: cfg.CheckInTokenTTL,
		Lookahead:  cfg.Reminder.Lookahead,
		Lookback:   cfg.Reminder.Lookback,
		Checks:     checks,
		RateLimit:  httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

func runDispatcher(ctx context.Context, cfg config.App, renderer *notify.Renderer, q queue.Queue) {
	var out notify.Deliverer = notify.LogSink{}
	if cfg.NotifyGatewayURL != "" {
		out = notify.NewGateway(cfg.NotifyGatewayURL, renderer, cfg.NotifyTimeout)
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		log.Printf("[notify] consume: %v", err)
		return
	}
	delivered, failed := notify.NewDispatcher(renderer, out, cfg.NotifyTimeout, nil).Run(ctx, msgs)
	log.Printf("[notify] dispatcher stopped: delivered=%d failed=%d", delivered, failed)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
