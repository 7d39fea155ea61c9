// Package config provides environment configuration for the orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Database settings
	DBDriver string // "sqlite" or "mysql"
	DBDSN    string

	// NATS settings (realtime notification sink; optional)
	NATSURL   string
	NATSToken string

	// Messaging platform settings
	GraphAPIBaseURL    string
	WebhookVerifyToken string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMTimeout      time.Duration

	// Speech settings
	SpeechEnabled bool

	// Object storage
	StorageDir string

	// Task queue
	QueueWorkers    int
	QueueMaxRetries int

	// Conversation lifecycle
	IdleCloseAfter     time.Duration
	ReaperSchedule     string
	ReopenWindow       time.Duration // 0 disables the staleness policy
	DefaultRatePerMin  int

	// JWT settings (campaign API)
	JWTSecret string

	// Rate limiting (HTTP)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Database
		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "orchestrator.db"),

		// NATS
		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// Messaging platform
		GraphAPIBaseURL:    getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com/v19.0"),
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 20*time.Second),

		// Speech
		SpeechEnabled: getBoolEnv("SPEECH_ENABLED", true),

		// Object storage
		StorageDir: getEnv("STORAGE_DIR", "data/objects"),

		// Task queue
		QueueWorkers:    getIntEnv("QUEUE_WORKERS", 8),
		QueueMaxRetries: getIntEnv("QUEUE_MAX_RETRIES", 3),

		// Conversation lifecycle
		IdleCloseAfter:    getDurationEnv("IDLE_CLOSE_AFTER", 5*time.Minute),
		ReaperSchedule:    getEnv("REAPER_SCHEDULE", "* * * * *"),
		ReopenWindow:      getDurationEnv("CONVERSATION_REOPEN_WINDOW", 0),
		DefaultRatePerMin: getIntEnv("CAMPAIGN_DEFAULT_RATE_PER_MINUTE", 20),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
