package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env  string
	Port int

	DBDSN     string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Shared secret for the scheduled /process-queue endpoint.
	// Empty means the endpoint is unauthenticated.
	CronSecret string

	// Extraction provider
	ExtractionProvider string
	ExtractionBaseURL  string
	ExtractionAPIKey   string
	DefaultModel       string

	// Queue policy
	QueueKey            string
	BatchSize           int
	ThroughputPerMinute int
	ProcessingEstimate  time.Duration
	ResultTTL           time.Duration
	WorkerInterval      time.Duration

	// Per-user daily document quota (0 disables quota checks).
	DefaultDailyQuota int

	// Requests per minute per client IP on /queue-document (0 disables).
	RateLimitPerMinute int

	// RabbitMQ document event feed (empty URL disables publishing).
	RabbitURL   string
	RabbitQueue string
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Load() Config {
	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/docsift?charset=utf8mb4&parseTime=true&loc=Local
	dsn := envString("DB_DSN",
		"app:apppass@tcp(127.0.0.1:3306)/docsift?charset=utf8mb4&parseTime=true&loc=Local")

	return Config{
		Env:  envString("APP_ENV", "development"),
		Port: envInt("PORT", 8080),

		DBDSN:     dsn,
		JWTSecret: envString("JWT_SECRET", "dev-secret-change-me"),

		RedisAddr:     envString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		CronSecret: os.Getenv("CRON_SECRET"),

		ExtractionProvider: envString("EXTRACTION_PROVIDER", "gemini"),
		ExtractionBaseURL:  envString("EXTRACTION_BASE_URL", "http://localhost:8090"),
		ExtractionAPIKey:   os.Getenv("EXTRACTION_API_KEY"),
		DefaultModel:       envString("EXTRACTION_MODEL", "gemini-2.0-flash"),

		QueueKey:            envString("QUEUE_KEY", "documents_queue"),
		BatchSize:           envInt("QUEUE_BATCH_SIZE", 5),
		ThroughputPerMinute: envInt("QUEUE_THROUGHPUT_PER_MINUTE", 5),
		ProcessingEstimate:  envDuration("PROCESSING_ESTIMATE", 60*time.Second),
		ResultTTL:           envDuration("RESULT_TTL", 24*time.Hour),
		WorkerInterval:      envDuration("WORKER_INTERVAL", time.Minute),

		DefaultDailyQuota:  envInt("DEFAULT_DAILY_QUOTA", 100),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: envString("RABBIT_QUEUE", "document_events"),
	}
}
