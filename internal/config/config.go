package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	PublicBaseURL   string
	UseMemoryQueue  bool
	UseMemoryStores bool
	WorkerCount     int
	DatabaseURL     string

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	SessionLockTTL time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	TurnQueueURL        string
	TurnJobsTable       string
	AlertArchiveBucket  string

	// LLM configuration
	LLMProvider         string
	LLMFallbackProvider string
	OpenRouterAPIKey    string
	OpenRouterBaseURL   string
	LLMModels           []string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string

	// Triage behaviour
	AssessmentTimeout     time.Duration
	ReplyTimeout          time.Duration
	HistoryWindow         int
	DepthLookback         time.Duration
	AssignmentMaxRetries  int
	AutoEmergencySessions bool
	MeetingBaseURL        string

	// Admin surface
	AdminJWTSecret     string
	AdminAlertEmail    string
	CORSAllowedOrigins []string
	TurnRateLimit      float64
	TurnRateBurst      int

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESConfigSet      string

	// Alert event fan-out
	RabbitMQURL      string
	AlertEventsQueue string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", ""),
		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", false),
		UseMemoryStores: getEnvAsBool("USE_MEMORY_STORES", false),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:     getEnv("DATABASE_URL", ""),

		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		SessionLockTTL: getEnvAsDuration("SESSION_LOCK_TTL", 60*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		TurnQueueURL:        getEnv("TURN_QUEUE_URL", ""),
		TurnJobsTable:       getEnv("TURN_JOBS_TABLE", "triage_turn_jobs"),
		AlertArchiveBucket:  getEnv("ALERT_ARCHIVE_BUCKET", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openrouter"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:   getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModels:           getEnvAsList("LLM_MODELS", nil),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AssessmentTimeout:     getEnvAsDuration("ASSESSMENT_TIMEOUT", 12*time.Second),
		ReplyTimeout:          getEnvAsDuration("REPLY_TIMEOUT", 20*time.Second),
		HistoryWindow:         getEnvAsInt("HISTORY_WINDOW", 5),
		DepthLookback:         getEnvAsDuration("DEPTH_LOOKBACK", 24*time.Hour),
		AssignmentMaxRetries:  getEnvAsInt("ASSIGNMENT_MAX_RETRIES", 3),
		AutoEmergencySessions: getEnvAsBool("AUTO_EMERGENCY_SESSIONS", false),
		MeetingBaseURL:        getEnv("MEETING_BASE_URL", "https://meet.example.org"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		AdminAlertEmail:    getEnv("ADMIN_ALERT_EMAIL", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		TurnRateLimit:      getEnvAsFloat("TURN_RATE_LIMIT", 5),
		TurnRateBurst:      getEnvAsInt("TURN_RATE_BURST", 10),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Triage Alerts"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		AlertEventsQueue: getEnv("ALERT_EVENTS_QUEUE", "crisis_alert_events"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
