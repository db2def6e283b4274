package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omnidesk/dispatch-engine/internal/config"
	emailprovider "github.com/omnidesk/dispatch-engine/internal/providers/email"
	smsprovider "github.com/omnidesk/dispatch-engine/internal/providers/sms"
	waprovider "github.com/omnidesk/dispatch-engine/internal/providers/whatsapp"
)

// WhatsApp constructs the configured WhatsApp provider. Supports http and
// mock backends.
func WhatsApp(cfg config.ProviderConfig, logger zerolog.Logger) (waprovider.Provider, error) {
	backend := normalize(cfg.WhatsAppBackend, "mock")
	switch backend {
	case "http":
		provider, err := waprovider.NewHTTPProvider(cfg.WhatsApp, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: whatsapp provider init: %w", err)
		}
		logger.Info().Str("backend", "http").Msg("whatsapp provider initialised")
		return provider, nil
	case "mock":
		logger.Info().Str("backend", "mock").Msg("whatsapp provider initialised")
		return waprovider.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("factory: unsupported whatsapp provider backend %q", cfg.WhatsAppBackend)
	}
}

// SMS constructs the configured SMS provider. Supports http and mock
// backends.
func SMS(cfg config.ProviderConfig, logger zerolog.Logger) (smsprovider.Provider, error) {
	backend := normalize(cfg.SMSBackend, "mock")
	switch backend {
	case "http":
		provider, err := smsprovider.NewHTTPProvider(cfg.SMS, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: sms provider init: %w", err)
		}
		logger.Info().Str("backend", "http").Msg("sms provider initialised")
		return provider, nil
	case "mock":
		logger.Info().Str("backend", "mock").Msg("sms provider initialised")
		return smsprovider.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("factory: unsupported sms provider backend %q", cfg.SMSBackend)
	}
}

// Email constructs the configured email provider. Supports http and mock
// backends.
func Email(cfg config.ProviderConfig, logger zerolog.Logger) (emailprovider.Provider, error) {
	backend := normalize(cfg.EmailBackend, "mock")
	switch backend {
	case "http":
		provider, err := emailprovider.NewHTTPProvider(cfg.Email, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: email provider init: %w", err)
		}
		logger.Info().Str("backend", "http").Msg("email provider initialised")
		return provider, nil
	case "mock":
		logger.Info().Str("backend", "mock").Msg("email provider initialised")
		return emailprovider.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("factory: unsupported email provider backend %q", cfg.EmailBackend)
	}
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
