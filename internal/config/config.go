package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds application configuration
type Config struct {
	Port     string `validate:"required,numeric"`
	Env      string `validate:"oneof=development staging production test"`
	LogLevel string `validate:"oneof=debug info warn error"`

	DatabaseURL string

	// WhatsApp Cloud API
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string `validate:"required"`
	WhatsAppWebhookSecret string
	WhatsAppAPIVersion    string `validate:"required"`
	WhatsAppBaseURL       string `validate:"required,url"`

	// Authentication
	CountryCode     string        `validate:"required,numeric,max=4"`
	OTPTTL          time.Duration `validate:"gt=0"`
	OTPMaxAttempts  int           `validate:"min=1"`
	RateLimitWindow time.Duration `validate:"gt=0"`
	SessionTTL      time.Duration `validate:"gt=0"`
	SessionStore    string        `validate:"oneof=memory redis dynamodb"`
	CleanupInterval time.Duration

	// Inbound rate limit per client IP on the webhook route
	WebhookRatePerMinute int `validate:"min=0"`

	// SMS delivery for passcodes
	SMSProvider              string `validate:"oneof=auto twilio telnyx log"`
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxFromNumber         string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioFromNumber         string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// DynamoDB session table (SESSION_STORE=dynamodb)
	SessionTable        string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_WEBHOOK_VERIFY_TOKEN", "care_whatsapp_bot_verify"),
		WhatsAppWebhookSecret: getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		WhatsAppAPIVersion:    getEnv("WHATSAPP_API_VERSION", "v18.0"),
		WhatsAppBaseURL:       getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com"),

		CountryCode:     getEnv("PHONE_COUNTRY_CODE", "91"),
		OTPTTL:          getEnvAsDuration("OTP_TTL", 10*time.Minute),
		OTPMaxAttempts:  getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
		RateLimitWindow: getEnvAsDuration("OTP_RATE_LIMIT_WINDOW", 5*time.Minute),
		SessionTTL:      getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionStore:    strings.ToLower(getEnv("SESSION_STORE", "memory")),
		CleanupInterval: getEnvAsDuration("SESSION_CLEANUP_INTERVAL", 15*time.Minute),

		WebhookRatePerMinute: getEnvAsInt("WEBHOOK_RATE_PER_MINUTE", 600),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:         getEnv("TWILIO_FROM_NUMBER", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SessionTable:        getEnv("SESSION_TABLE", "whatsapp_bot_sessions"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.SessionStore == "redis" && strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("config: SESSION_STORE=redis requires REDIS_ADDR")
	}
	if c.SessionStore == "dynamodb" && (strings.TrimSpace(c.SessionTable) == "" || strings.TrimSpace(c.AWSRegion) == "") {
		return fmt.Errorf("config: SESSION_STORE=dynamodb requires SESSION_TABLE and AWS_REGION")
	}
	if c.Env == "production" && c.WhatsAppWebhookSecret == "" {
		return fmt.Errorf("config: WHATSAPP_WEBHOOK_SECRET is required in production")
	}
	return nil
}

// GraphAPIBase returns the versioned Graph API root.
func (c *Config) GraphAPIBase() string {
	return strings.TrimRight(c.WhatsAppBaseURL, "/") + "/" + c.WhatsAppAPIVersion
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
