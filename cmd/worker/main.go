// The worker drains the document queue on a fixed schedule, for
// deployments where no external cron hits /process-queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docsift/docsift/internal/ai"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/extraction"
	"github.com/docsift/docsift/internal/logger"
	"github.com/docsift/docsift/internal/store/rabbitmq"
	"github.com/docsift/docsift/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))

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

	svc := extraction.NewService(rds, reg, events, extraction.Policy{
		QueueKey:            cfg.QueueKey,
		BatchSize:           cfg.BatchSize,
		ThroughputPerMinute: cfg.ThroughputPerMinute,
		ProcessingEstimate:  cfg.ProcessingEstimate,
		ResultTTL:           cfg.ResultTTL,
		ProviderName:        cfg.ExtractionProvider,
		DefaultModel:        cfg.DefaultModel,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		slog.Duration("interval", cfg.WorkerInterval),
		slog.Int("batch_size", cfg.BatchSize),
	)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	runBatch(ctx, svc, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		case <-ticker.C:
			runBatch(ctx, svc, log)
		}
	}
}

func runBatch(ctx context.Context, svc *extraction.Service, log *slog.Logger) {
	start := time.Now()
	sum, err := svc.ProcessBatch(ctx)
	if err != nil {
		log.Error("batch failed", slog.Any("error", err))
		return
	}
	if len(sum.Processed)+len(sum.Failed) == 0 {
		return
	}
	log.Info("batch done",
		slog.Int("processed", len(sum.Processed)),
		slog.Int("failed", len(sum.Failed)),
		slog.Int64("remaining", sum.Remaining),
		slog.Duration("took", time.Since(start)),
	)
}
