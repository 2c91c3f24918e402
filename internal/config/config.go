// Package config provides environment configuration for the API server.
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

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Analysis Service settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultProvider string
	AnalysisModel   string
	DraftingModel   string

	// Pipeline settings
	StageTimeout    time.Duration
	TurnDeadline    time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	MaxConcurrent   int64
	ContextMaxTurns int

	// Insights settings
	SummaryWindowSize int
	SummaryWindowAge  time.Duration

	// Outbound scheduling settings
	CheckInSilence   time.Duration
	FollowUpSilence  time.Duration
	ReminderLeadTime time.Duration
	SchedulerTick    time.Duration

	// Rate limiting
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
	stageTimeout := getDurationEnv("STAGE_TIMEOUT", 10*time.Second)

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// Analysis Service
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "openai"),
		AnalysisModel:   getEnv("ANALYSIS_MODEL", ""),
		DraftingModel:   getEnv("DRAFTING_MODEL", ""),

		// Pipeline. The turn deadline covers the parallel stage fan-out plus
		// the gated response stage, with a margin for queueing.
		StageTimeout:    stageTimeout,
		TurnDeadline:    getDurationEnv("TURN_DEADLINE", 2*stageTimeout+5*time.Second),
		MaxAttempts:     getIntEnv("STAGE_MAX_ATTEMPTS", 3),
		BackoffBase:     getDurationEnv("STAGE_BACKOFF_BASE", 500*time.Millisecond),
		MaxConcurrent:   int64(getIntEnv("ANALYSIS_MAX_CONCURRENT", 8)),
		ContextMaxTurns: getIntEnv("CONTEXT_MAX_TURNS", 500),

		// Insights
		SummaryWindowSize: getIntEnv("SUMMARY_WINDOW_SIZE", 50),
		SummaryWindowAge:  getDurationEnv("SUMMARY_WINDOW_AGE", 7*24*time.Hour),

		// Outbound scheduling
		CheckInSilence:   getDurationEnv("CHECKIN_SILENCE", 72*time.Hour),
		FollowUpSilence:  getDurationEnv("FOLLOWUP_SILENCE", 72*time.Hour),
		ReminderLeadTime: getDurationEnv("REMINDER_LEAD_TIME", 24*time.Hour),
		SchedulerTick:    getDurationEnv("SCHEDULER_TICK", 15*time.Minute),

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
