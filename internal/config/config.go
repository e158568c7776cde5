package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "OVERPRINT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "overprint.db"
	defaultStoragePath  = "storage"
	defaultLogLevel     = "info"
	defaultBaseURL      = "http://localhost:8080"

	defaultSessionExpiryHours  = 24
	minSessionExpiryHours      = 1
	maxSessionExpiryHours      = 168
	defaultCleanupIntervalMin  = 60
	defaultCleanupGraceMin     = 60
	defaultWebhookTimeoutSec   = 30
	defaultWebhookAttempts     = 3
	defaultWebhookBackoffSec   = 1
	defaultUploadMaxSizeBytes  = 50 << 20
	defaultImageMaxSizeBytes   = 10 << 20
	defaultUploadExtensionsCSV = ".pdf"
	defaultImageExtensionsCSV  = ".png,.jpg,.jpeg,.gif"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	StoragePath  string
	LogLevel     string
	APISecretKey string
	BaseURL      string

	SessionExpiryDefault time.Duration
	SessionExpiryMin     time.Duration
	SessionExpiryMax     time.Duration

	CleanupInterval time.Duration
	CleanupGrace    time.Duration

	WebhookTimeout        time.Duration
	WebhookRetryAttempts  int
	WebhookInitialBackoff time.Duration

	UploadMaxSize    int64
	ImageMaxSize     int64
	UploadExtensions []string
	ImageExtensions  []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.base_url", defaultBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("session.expiry_hours", defaultSessionExpiryHours)
	configViper.SetDefault("cleanup.interval_minutes", defaultCleanupIntervalMin)
	configViper.SetDefault("cleanup.grace_minutes", defaultCleanupGraceMin)

	configViper.SetDefault("webhook.timeout_seconds", defaultWebhookTimeoutSec)
	configViper.SetDefault("webhook.retry_attempts", defaultWebhookAttempts)
	configViper.SetDefault("webhook.initial_backoff_seconds", defaultWebhookBackoffSec)

	configViper.SetDefault("upload.max_size_bytes", defaultUploadMaxSizeBytes)
	configViper.SetDefault("upload.extensions", defaultUploadExtensionsCSV)
	configViper.SetDefault("image.max_size_bytes", defaultImageMaxSizeBytes)
	configViper.SetDefault("image.extensions", defaultImageExtensionsCSV)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		BaseURL:      strings.TrimRight(configViper.GetString("http.base_url"), "/"),
		DatabasePath: configViper.GetString("database.path"),
		StoragePath:  configViper.GetString("storage.path"),
		LogLevel:     configViper.GetString("log.level"),
		APISecretKey: configViper.GetString("api.secret_key"),

		SessionExpiryDefault: time.Duration(configViper.GetInt("session.expiry_hours")) * time.Hour,
		SessionExpiryMin:     minSessionExpiryHours * time.Hour,
		SessionExpiryMax:     maxSessionExpiryHours * time.Hour,

		CleanupInterval: time.Duration(configViper.GetInt("cleanup.interval_minutes")) * time.Minute,
		CleanupGrace:    time.Duration(configViper.GetInt("cleanup.grace_minutes")) * time.Minute,

		WebhookTimeout:        time.Duration(configViper.GetInt("webhook.timeout_seconds")) * time.Second,
		WebhookRetryAttempts:  configViper.GetInt("webhook.retry_attempts"),
		WebhookInitialBackoff: time.Duration(configViper.GetInt("webhook.initial_backoff_seconds")) * time.Second,

		UploadMaxSize:    configViper.GetInt64("upload.max_size_bytes"),
		ImageMaxSize:     configViper.GetInt64("image.max_size_bytes"),
		UploadExtensions: splitExtensions(configViper.GetString("upload.extensions")),
		ImageExtensions:  splitExtensions(configViper.GetString("image.extensions")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func splitExtensions(raw string) []string {
	parts := strings.Split(raw, ",")
	extensions := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, ".") {
			trimmed = "." + trimmed
		}
		extensions = append(extensions, trimmed)
	}
	return extensions
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.APISecretKey) == "" {
		return fmt.Errorf("api.secret_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.SessionExpiryDefault < c.SessionExpiryMin || c.SessionExpiryDefault > c.SessionExpiryMax {
		return fmt.Errorf("session.expiry_hours must be between %d and %d", minSessionExpiryHours, maxSessionExpiryHours)
	}
	if c.WebhookRetryAttempts < 1 {
		return fmt.Errorf("webhook.retry_attempts must be at least 1")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup.interval_minutes must be positive")
	}
	return nil
}
