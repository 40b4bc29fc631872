package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	EmbeddingProvider    string
	OpenAIEmbeddingModel string
	DraftProvider        string
	GeminiAPIKey         string
	GeminiModel          string

	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	BedrockEmbeddingModelID string

	DefaultTenantID     string
	ClinicTimezone      string
	LegacyDSTOffsets    bool
	BusinessHoursStart  int
	BusinessHoursEnd    int
	MaxToolRounds       int
	KnowledgeRankTenant bool
	TenantCacheTTL      time.Duration

	// WhatsApp Cloud API
	WhatsAppAPIBaseURL    string
	WhatsAppAPIVersion    string
	WhatsAppPhoneNumberID string
	WhatsAppAccessToken   string
	WhatsAppVerifyToken   string

	UseMemoryQueue       bool
	ConversationQueueURL string
	WorkerCount          int

	// Scheduled jobs
	NegotiationSchedule     string
	ReminderSchedule        string
	ReviewSchedule          string
	JobTimeout              time.Duration
	NegotiationLeaseTimeout time.Duration
	NegotiationMaxAttempts  int
	FallbackReviewLink      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		EmbeddingProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMBEDDING_PROVIDER", "openai"))),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		DraftProvider:        strings.ToLower(strings.TrimSpace(getEnv("DRAFT_PROVIDER", "openai"))),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		AWSRegion:               getEnv("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", "amazon.titan-embed-text-v2:0"),

		DefaultTenantID:     getEnv("DEFAULT_TENANT_ID", ""),
		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "Europe/Madrid"),
		LegacyDSTOffsets:    getEnvAsBool("LEGACY_DST_OFFSETS", false),
		BusinessHoursStart:  getEnvAsInt("BUSINESS_HOURS_START", 9),
		BusinessHoursEnd:    getEnvAsInt("BUSINESS_HOURS_END", 18),
		MaxToolRounds:       getEnvAsInt("MAX_TOOL_ROUNDS", 5),
		KnowledgeRankTenant: getEnvAsBool("KNOWLEDGE_RANK_TENANT", false),
		TenantCacheTTL:      getEnvAsDuration("TENANT_CACHE_TTL", 5*time.Minute),

		WhatsAppAPIBaseURL:    getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:    getEnv("WHATSAPP_API_VERSION", "v20.0"),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),

		NegotiationSchedule:     getEnv("NEGOTIATION_SCHEDULE", "*/10 * * * *"),
		ReminderSchedule:        getEnv("REMINDER_SCHEDULE", "0 * * * *"),
		ReviewSchedule:          getEnv("REVIEW_SCHEDULE", "*/30 * * * *"),
		JobTimeout:              getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
		NegotiationLeaseTimeout: getEnvAsDuration("NEGOTIATION_LEASE_TIMEOUT", 30*time.Minute),
		NegotiationMaxAttempts:  getEnvAsInt("NEGOTIATION_MAX_ATTEMPTS", 3),
		FallbackReviewLink:      getEnv("FALLBACK_REVIEW_LINK", ""),
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
