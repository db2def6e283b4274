package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the dispatch engine.
type Config struct {
	App       AppConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Providers ProviderConfig
	Dispatch  DispatchConfig
	Timeouts  TimeoutConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// KafkaConfig defines broker information and the message event topic.
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// DatabaseConfig locates the sqlite database file.
type DatabaseConfig struct {
	Path string
}

// RateLimitConfig controls limiter housekeeping.
type RateLimitConfig struct {
	SweepIntervalSeconds int
}

// WhatsAppConfig stores credentials for the WhatsApp provider.
type WhatsAppConfig struct {
	BaseURL          string
	AuthKey          string
	IntegratedNumber string
}

// SMSConfig stores credentials for the SMS provider.
type SMSConfig struct {
	BaseURL  string
	APIKey   string
	SenderID string
}

// EmailConfig stores credentials for the email provider.
type EmailConfig struct {
	BaseURL     string
	APIKey      string
	FromAddress string
}

// ProviderConfig wraps configuration for external providers. Each backend
// may be set to "mock" for local development and tests.
type ProviderConfig struct {
	WhatsAppBackend string
	SMSBackend      string
	EmailBackend    string
	WhatsApp        WhatsAppConfig
	SMS             SMSConfig
	Email           EmailConfig
}

// DispatchConfig tunes the broadcast dispatcher.
type DispatchConfig struct {
	SMSBatchSize          int
	SMSBatchPauseSeconds  int
	WorkerConcurrency     int
	SchedulePollSeconds   int
	TokenRefreshThreshold int
}

// TimeoutConfig contains timeout thresholds for outbound providers.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.EventsTopic = ldr.getString("KAFKA_MESSAGE_EVENTS_TOPIC", "message-events", false)

	cfg.Database.Path = ldr.getString("DATABASE_PATH", "dispatch.db", false)

	cfg.RateLimit.SweepIntervalSeconds = ldr.getInt("RATE_LIMIT_SWEEP_INTERVAL_SECONDS", 300, false)

	cfg.Providers.WhatsAppBackend = ldr.getString("WHATSAPP_PROVIDER", "mock", false)
	cfg.Providers.SMSBackend = ldr.getString("SMS_PROVIDER", "mock", false)
	cfg.Providers.EmailBackend = ldr.getString("EMAIL_PROVIDER", "mock", false)

	cfg.Providers.WhatsApp.BaseURL = ldr.getString("WHATSAPP_BASE_URL", "https://api.msg91.com/api/v5/whatsapp", false)
	cfg.Providers.WhatsApp.AuthKey = ldr.getString("WHATSAPP_AUTH_KEY", "", false)
	cfg.Providers.WhatsApp.IntegratedNumber = ldr.getString("WHATSAPP_INTEGRATED_NUMBER", "", false)

	cfg.Providers.SMS.BaseURL = ldr.getString("SMS_BASE_URL", "", false)
	cfg.Providers.SMS.APIKey = ldr.getString("SMS_API_KEY", "", false)
	cfg.Providers.SMS.SenderID = ldr.getString("SMS_SENDER_ID", "", false)

	cfg.Providers.Email.BaseURL = ldr.getString("EMAIL_BASE_URL", "", false)
	cfg.Providers.Email.APIKey = ldr.getString("EMAIL_API_KEY", "", false)
	cfg.Providers.Email.FromAddress = ldr.getString("EMAIL_FROM_ADDRESS", "", false)

	cfg.Dispatch.SMSBatchSize = ldr.getInt("SMS_BATCH_SIZE", 50, false)
	cfg.Dispatch.SMSBatchPauseSeconds = ldr.getInt("SMS_BATCH_PAUSE_SECONDS", 1, false)
	cfg.Dispatch.WorkerConcurrency = ldr.getInt("DISPATCH_CONCURRENCY", 4, false)
	cfg.Dispatch.SchedulePollSeconds = ldr.getInt("SCHEDULE_POLL_SECONDS", 30, false)
	cfg.Dispatch.TokenRefreshThreshold = ldr.getInt("TOKEN_REFRESH_THRESHOLD_MINUTES", 5, false)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 10, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
