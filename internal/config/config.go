package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const maxMatchWindow = 120 * time.Minute

type Config struct {
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  []string
	JWTSecret     string
	HTTPAddr      string
	MetricsAddr   string
	OTLPEndpoint  string
	StorageDriver string
	LogLevel      string
	Currency      string

	WebhookSecret   string
	GatewayBaseURL  string
	GatewayAPIKey   string
	GatewayTimeout  time.Duration
	GatewayAttempts int

	MatchWindow     time.Duration
	OrderTTL        time.Duration
	RetryWindow     time.Duration
	DedupTTL        time.Duration
	ExpiryInterval  time.Duration
	RetryInterval   time.Duration
	RematchInterval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:   getString("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=promo sslmode=disable"),
		RedisAddr:     getString("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:  getList("KAFKA_BROKER", []string{"localhost:9092"}),
		JWTSecret:     getString("JWT_SECRET", "supersecret"),
		HTTPAddr:      getString("HTTP_ADDR", ":8080"),
		MetricsAddr:   getString("METRICS_ADDR", ":9090"),
		OTLPEndpoint:  os.Getenv("OTLP_ENDPOINT"),
		StorageDriver: strings.ToLower(getString("STORAGE_DRIVER", "postgres")),
		LogLevel:      getString("LOG_LEVEL", "info"),
		Currency:      getString("CURRENCY", "KES"),

		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		GatewayBaseURL:  getString("GATEWAY_BASE_URL", "https://api.lipana.dev/v1"),
		GatewayAPIKey:   os.Getenv("GATEWAY_API_KEY"),
		GatewayTimeout:  getDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayAttempts: getInt("GATEWAY_ATTEMPTS", 2),

		MatchWindow:     getDuration("MATCH_WINDOW", 60*time.Minute),
		OrderTTL:        getDuration("ORDER_TTL", 2*time.Hour),
		RetryWindow:     getDuration("RETRY_WINDOW", 30*time.Minute),
		DedupTTL:        getDuration("DEDUP_TTL", 24*time.Hour),
		ExpiryInterval:  getDuration("EXPIRY_INTERVAL", time.Hour),
		RetryInterval:   getDuration("RETRY_INTERVAL", 5*time.Minute),
		RematchInterval: getDuration("REMATCH_INTERVAL", 5*time.Minute),
	}

	if cfg.MatchWindow > maxMatchWindow {
		slog.Warn("match window above tolerated maximum, clamping", "configured", cfg.MatchWindow, "max", maxMatchWindow)
		cfg.MatchWindow = maxMatchWindow
	}
	if cfg.GatewayAttempts < 1 {
		cfg.GatewayAttempts = 1
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET is empty, webhook signatures will not be verified")
	}

	slog.Info("config loaded",
		"storage_driver", cfg.StorageDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"http_addr", cfg.HTTPAddr,
		"match_window", cfg.MatchWindow,
		"order_ttl", cfg.OrderTTL)
	return cfg
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}
