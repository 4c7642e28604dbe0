package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderStub   = "stub"
	ProviderRemote = "remote"
	ProviderLLM    = "llm"
)

type Config struct {
	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string
	RealtimeEnabled        bool

	// Database
	DatabaseURL string

	// Server
	Port        string
	Environment string
	BaseURL     string
	LogLevel    string

	// Providers
	PreviewProvider           string
	PreviewAPIKey             string
	PreviewAPIBaseURL         string
	PreviewPlaceholderBaseURL string
	PlanProvider              string
	OpenAIAPIKey              string
	OpenAIModel               string
	OpenAIBaseURL             string
	PreviewStubDelay          time.Duration
	PlanStubDelay             time.Duration
	ProviderTimeout           time.Duration
	PollInterval              time.Duration
	OperationDeadline         time.Duration
	MaxBackgroundJobs         int

	// Stripe
	StripeWebhookSecret string
	StripePriceCasual   string
	StripePricePro      string

	// Entitlements
	FreeQuotaOverride       int
	DegradedMode            bool
	SinglePreviewPerProject bool

	// Suggestions
	SuggestionCacheSize int
	SuggestionCacheTTL  time.Duration
}

// Load reads configuration from the environment, after merging a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabasePublishableKey: getEnv("SUPABASE_PUBLISHABLE_KEY", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "project-images"),
		RealtimeEnabled:        getEnvBool("REALTIME_ENABLED", true),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		PreviewProvider:           getEnv("PREVIEW_PROVIDER", ProviderStub),
		PreviewAPIKey:             getEnv("PREVIEW_API_KEY", ""),
		PreviewAPIBaseURL:         getEnv("PREVIEW_API_BASE_URL", ""),
		PreviewPlaceholderBaseURL: getEnv("PREVIEW_PLACEHOLDER_BASE_URL", ""),
		PlanProvider:              getEnv("PLAN_PROVIDER", ProviderStub),
		OpenAIAPIKey:              getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:               getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:             getEnv("OPENAI_BASE_URL", ""),
		PreviewStubDelay:          getEnvDuration("PREVIEW_STUB_DELAY", 3*time.Second),
		PlanStubDelay:             getEnvDuration("PLAN_STUB_DELAY", 1500*time.Millisecond),
		ProviderTimeout:           getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		PollInterval:              getEnvDuration("PROVIDER_POLL_INTERVAL", 2*time.Second),
		OperationDeadline:         getEnvDuration("OPERATION_DEADLINE", 10*time.Minute),
		MaxBackgroundJobs:         getEnvInt("MAX_BACKGROUND_JOBS", 16),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceCasual:   getEnv("STRIPE_PRICE_CASUAL", ""),
		StripePricePro:      getEnv("STRIPE_PRICE_PRO", ""),

		FreeQuotaOverride:       getEnvInt("FREE_QUOTA_OVERRIDE", 0),
		DegradedMode:            getEnvBool("ENTITLEMENT_DEGRADED_MODE", false),
		SinglePreviewPerProject: getEnvBool("SINGLE_PREVIEW_PER_PROJECT", false),

		SuggestionCacheSize: getEnvInt("SUGGESTION_CACHE_SIZE", 256),
		SuggestionCacheTTL:  getEnvDuration("SUGGESTION_CACHE_TTL", 60*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate() error {
	if c.SupabaseJWTSecret == "" && (c.SupabaseURL == "" || c.SupabasePublishableKey == "") {
		return fmt.Errorf("SUPABASE_JWT_SECRET or SUPABASE_URL with SUPABASE_PUBLISHABLE_KEY is required")
	}
	if c.MaxBackgroundJobs < 1 {
		return fmt.Errorf("MAX_BACKGROUND_JOBS must be positive")
	}
	if c.FreeQuotaOverride < 0 {
		return fmt.Errorf("FREE_QUOTA_OVERRIDE must not be negative")
	}

	switch c.PreviewProvider {
	case ProviderStub:
	case ProviderRemote:
		if c.PreviewAPIKey == "" || c.PreviewAPIBaseURL == "" {
			return fmt.Errorf("PREVIEW_API_KEY and PREVIEW_API_BASE_URL are required for the remote preview provider")
		}
	default:
		return fmt.Errorf("unknown PREVIEW_PROVIDER %q", c.PreviewProvider)
	}

	switch c.PlanProvider {
	case ProviderStub:
	case ProviderLLM:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the llm plan provider")
		}
	default:
		return fmt.Errorf("unknown PLAN_PROVIDER %q", c.PlanProvider)
	}

	if c.IsProduction() {
		if c.FreeQuotaOverride != 0 {
			return fmt.Errorf("FREE_QUOTA_OVERRIDE is not allowed in production")
		}
		if c.DegradedMode {
			return fmt.Errorf("ENTITLEMENT_DEGRADED_MODE is not allowed in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.SupabaseJWTSecret == "" {
			return fmt.Errorf("SUPABASE_JWT_SECRET is required in production")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
