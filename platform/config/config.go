// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int32
	GetDatabaseMinConns() int32
	GetDatabaseAppName() string
}

// StoreConfig selects the follow-up store backend.
type StoreConfig interface {
	DatabaseConfig
	GetStoreDriver() string
	GetSQLitePath() string
}

// SchedulerConfig provides settings for the asynq client, worker and periodic scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetFollowUpInterval() time.Duration
	GetScoreRecalcInterval() time.Duration
}

// FollowUpConfig provides settings for rule evaluation and dispatch.
type FollowUpConfig interface {
	GetFollowUpBatchSize() int
	GetFollowUpConcurrency() int
	GetFollowUpLocation() *time.Location
	GetFollowUpTemplatesPath() string
	GetFollowUpSendRate() float64
	GetDeliveryTimeout() time.Duration
	GetRetryMaxAttempts() int
	GetStaleSendingAfter() time.Duration
	GetAgencyName() string
}

// WhatsAppConfig provides settings for the WhatsApp providers.
type WhatsAppConfig interface {
	GetWhatsAppProvider() string
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetWhatsAppAccessToken() string
	GetWhatsAppPhoneNumberID() string
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetEmailProvider() string
	GetBrevoAPIKey() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetOpsAPIKey() string
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketRunReports() string
	IsMinIOEnabled() bool
}

// PhoneConfig provides the default region used to parse local phone numbers.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env         string
	HTTPAddr    string
	DatabaseURL string
	StoreDriver string
	SQLitePath  string

	DatabaseMaxConns int32
	DatabaseMinConns int32
	DatabaseAppName  string

	CORSAllowAll bool
	CORSOrigins  []string
	OpsAPIKey    string

	RedisURL            string
	RedisTLSInsecure    bool
	AsynqQueueName      string
	AsynqConcurrency    int
	FollowUpInterval    time.Duration
	ScoreRecalcInterval time.Duration

	FollowUpBatchSize     int
	FollowUpConcurrency   int
	FollowUpTimezone      string
	FollowUpLocation      *time.Location
	FollowUpTemplatesPath string
	FollowUpSendRate      float64
	DeliveryTimeout       time.Duration
	RetryMaxAttempts      int
	StaleSendingAfter     time.Duration
	AgencyName            string
	PhoneDefaultRegion    string

	WhatsAppProvider      string
	WhatsAppURL           string
	WhatsAppKey           string
	WhatsAppDeviceID      string
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string

	EmailEnabled     bool
	EmailProvider    string
	BrevoAPIKey      string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string

	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOUseSSL           bool
	MinioBucketRunReports string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig / StoreConfig
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return c.DatabaseMaxConns }
func (c *Config) GetDatabaseMinConns() int32 { return c.DatabaseMinConns }
func (c *Config) GetDatabaseAppName() string { return c.DatabaseAppName }
func (c *Config) GetStoreDriver() string     { return c.StoreDriver }
func (c *Config) GetSQLitePath() string      { return c.SQLitePath }

// SchedulerConfig
func (c *Config) GetRedisURL() string                   { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool             { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string             { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int              { return c.AsynqConcurrency }
func (c *Config) GetFollowUpInterval() time.Duration    { return c.FollowUpInterval }
func (c *Config) GetScoreRecalcInterval() time.Duration { return c.ScoreRecalcInterval }

// FollowUpConfig
func (c *Config) GetFollowUpBatchSize() int             { return c.FollowUpBatchSize }
func (c *Config) GetFollowUpConcurrency() int           { return c.FollowUpConcurrency }
func (c *Config) GetFollowUpLocation() *time.Location   { return c.FollowUpLocation }
func (c *Config) GetFollowUpTemplatesPath() string      { return c.FollowUpTemplatesPath }
func (c *Config) GetFollowUpSendRate() float64          { return c.FollowUpSendRate }
func (c *Config) GetDeliveryTimeout() time.Duration     { return c.DeliveryTimeout }
func (c *Config) GetRetryMaxAttempts() int              { return c.RetryMaxAttempts }
func (c *Config) GetStaleSendingAfter() time.Duration   { return c.StaleSendingAfter }
func (c *Config) GetAgencyName() string                 { return c.AgencyName }
func (c *Config) GetPhoneDefaultRegion() string         { return c.PhoneDefaultRegion }

// WhatsAppConfig
func (c *Config) GetWhatsAppProvider() string      { return c.WhatsAppProvider }
func (c *Config) GetWhatsAppURL() string           { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string           { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string      { return c.WhatsAppDeviceID }
func (c *Config) GetWhatsAppAccessToken() string   { return c.WhatsAppAccessToken }
func (c *Config) GetWhatsAppPhoneNumberID() string { return c.WhatsAppPhoneNumberID }

// EmailConfig
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// HTTPConfig
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetOpsAPIKey() string     { return c.OpsAPIKey }

// MinIOConfig
func (c *Config) GetMinIOEndpoint() string         { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string        { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string        { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool             { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketRunReports() string { return c.MinioBucketRunReports }
func (c *Config) IsMinIOEnabled() bool             { return c.MinIOEndpoint != "" }

// Load reads configuration from the environment, optionally seeded by a .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "development")

	storeDriver := strings.ToLower(getEnv("STORE_DRIVER", "postgres"))
	databaseURL := os.Getenv("DATABASE_URL")
	if storeDriver == "postgres" && databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	if storeDriver != "postgres" && storeDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", storeDriver)
	}

	timezone := getEnv("FOLLOWUP_TIMEZONE", "America/Sao_Paulo")
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid FOLLOWUP_TIMEZONE %q: %w", timezone, err)
	}

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))

	cfg := &Config{
		Env:         env,
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: databaseURL,
		StoreDriver: storeDriver,
		SQLitePath:  getEnv("SQLITE_PATH", "data/followups.db"),

		DatabaseMaxConns: int32(mustInt(getEnv("DB_MAX_CONNS", "16"))),
		DatabaseMinConns: int32(mustInt(getEnv("DB_MIN_CONNS", "2"))),
		DatabaseAppName:  getEnv("DB_APP_NAME", "travel-crm-followups"),

		CORSAllowAll: containsWildcard(corsOrigins),
		CORSOrigins:  corsOrigins,
		OpsAPIKey:    os.Getenv("OPS_API_KEY"),

		RedisURL:            os.Getenv("REDIS_URL"),
		RedisTLSInsecure:    getEnv("REDIS_TLS_INSECURE", "false") == "true",
		AsynqQueueName:      getEnv("ASYNQ_QUEUE", "followups"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		FollowUpInterval:    mustDuration(getEnv("FOLLOWUP_INTERVAL", "15m")),
		ScoreRecalcInterval: mustDuration(getEnv("SCORE_RECALC_INTERVAL", "1h")),

		FollowUpBatchSize:     mustInt(getEnv("FOLLOWUP_BATCH_SIZE", "100")),
		FollowUpConcurrency:   mustInt(getEnv("FOLLOWUP_CONCURRENCY", "8")),
		FollowUpTimezone:      timezone,
		FollowUpLocation:      location,
		FollowUpTemplatesPath: os.Getenv("FOLLOWUP_TEMPLATES_PATH"),
		FollowUpSendRate:      mustFloat(getEnv("FOLLOWUP_SEND_RATE", "5")),
		DeliveryTimeout:       mustDuration(getEnv("DELIVERY_TIMEOUT", "15s")),
		RetryMaxAttempts:      mustInt(getEnv("RETRY_MAX_ATTEMPTS", "5")),
		StaleSendingAfter:     mustDuration(getEnv("STALE_SENDING_AFTER", "10m")),
		AgencyName:            getEnv("AGENCY_NAME", "nossa agência"),
		PhoneDefaultRegion:    strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "BR")),

		WhatsAppProvider:      strings.ToLower(getEnv("WHATSAPP_PROVIDER", "gowa")),
		WhatsAppURL:           os.Getenv("WHATSAPP_URL"),
		WhatsAppKey:           os.Getenv("WHATSAPP_KEY"),
		WhatsAppDeviceID:      os.Getenv("WHATSAPP_DEVICE_ID"),
		WhatsAppAccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		WhatsAppPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),

		EmailEnabled:     getEnv("EMAIL_ENABLED", "false") == "true",
		EmailProvider:    strings.ToLower(getEnv("EMAIL_PROVIDER", "brevo")),
		BrevoAPIKey:      os.Getenv("BREVO_API_KEY"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Atendimento"),
		EmailFromAddress: os.Getenv("EMAIL_FROM_ADDRESS"),

		MinIOEndpoint:         os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey:        os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:        os.Getenv("MINIO_SECRET_KEY"),
		MinIOUseSSL:           getEnv("MINIO_USE_SSL", "false") == "true",
		MinioBucketRunReports: getEnv("MINIO_BUCKET_RUN_REPORTS", "followup-run-reports"),
	}

	if cfg.EmailEnabled {
		switch cfg.EmailProvider {
		case "brevo":
			if cfg.BrevoAPIKey == "" {
				return nil, fmt.Errorf("BREVO_API_KEY is required when EMAIL_PROVIDER=brevo")
			}
		case "smtp":
			if cfg.SMTPHost == "" {
				return nil, fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER=smtp")
			}
		default:
			return nil, fmt.Errorf("unsupported EMAIL_PROVIDER %q", cfg.EmailProvider)
		}
		if cfg.EmailFromAddress == "" {
			return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

func mustInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}

func mustFloat(value string) float64 {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
