package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docsift/docsift/internal/ai"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/db"
	"github.com/docsift/docsift/internal/extraction"
	"github.com/docsift/docsift/internal/httpapi"
	"github.com/docsift/docsift/internal/httpapi/handlers"
	"github.com/docsift/docsift/internal/httpapi/middleware"
	"github.com/docsift/docsift/internal/logger"
	"github.com/docsift/docsift/internal/store/rabbitmq"
	"github.com/docsift/docsift/internal/store/redisstore"
	"github.com/docsift/docsift/internal/users"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Error("database connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		cancel()
		log.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	cancel()

	var events extraction.EventPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			// The event feed is best-effort; the API stays up without it.
			log.Warn("rabbitmq connect failed, events disabled", slog.Any("error", err))
		} else {
			defer pub.Close()
			events = rabbitmq.NewEventSink(pub)
		}
	}

	reg := ai.NewRegistry()
	reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.DefaultModel
		}
		return ai.NewGeminiProvider(cfg.ExtractionBaseURL, cfg.ExtractionAPIKey, model), nil
	})

	extractSvc := extraction.NewService(rds, reg, events, extraction.Policy{
		QueueKey:            cfg.QueueKey,
		BatchSize:           cfg.BatchSize,
		ThroughputPerMinute: cfg.ThroughputPerMinute,
		ProcessingEstimate:  cfg.ProcessingEstimate,
		ResultTTL:           cfg.ResultTTL,
		ProviderName:        cfg.ExtractionProvider,
		DefaultModel:        cfg.DefaultModel,
	}, log)

	usersSvc := users.NewService(users.NewRepo(gdb), cfg.JWTSecret, cfg.DefaultDailyQuota)

	h := handlers.NewHandler(cfg, log, extractSvc, usersSvc, rds)

	rateLimit, err := middleware.RateLimit(rds.Client(), cfg.RateLimitPerMinute)
	if err != nil {
		log.Error("rate limiter init failed", slog.Any("error", err))
		os.Exit(1)
	}

	router := httpapi.NewRouter(cfg, log, h, rateLimit)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch trigger waits on extraction calls
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server started", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", slog.Any("error", err))
	}
}
