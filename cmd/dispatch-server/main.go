package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	emailadapter "github.com/omnidesk/dispatch-engine/internal/adapters/email"
	smsadapter "github.com/omnidesk/dispatch-engine/internal/adapters/sms"
	whatsappadapter "github.com/omnidesk/dispatch-engine/internal/adapters/whatsapp"
	"github.com/omnidesk/dispatch-engine/internal/broadcast"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/config"
	"github.com/omnidesk/dispatch-engine/internal/conversation"
	"github.com/omnidesk/dispatch-engine/internal/events"
	"github.com/omnidesk/dispatch-engine/internal/httpapi"
	"github.com/omnidesk/dispatch-engine/internal/logger"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/oauth"
	"github.com/omnidesk/dispatch-engine/internal/providers/factory"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
	"github.com/omnidesk/dispatch-engine/internal/store"
	"golang.org/x/time/rate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "dispatch-server").Logger()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	limiter := ratelimit.NewMemoryLimiter(logger.Component(&log, "ratelimit"))
	limiter.StartSweeper(ctx, time.Duration(cfg.RateLimit.SweepIntervalSeconds)*time.Second)

	accounts := collab.NewMemoryAccounts(defaultAccounts(cfg)...)
	contacts := collab.NewMemoryContacts()
	ledger := collab.NewMemoryLedger()
	optOuts := collab.NewMemoryOptOuts()

	var sink common.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := events.NewProducer(cfg.Kafka.Brokers, logger.Component(&log, "kafka"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event producer")
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close event producer")
			}
		}()
		sink = events.NewPublisher(prod, cfg.Kafka.EventsTopic, logger.Component(&log, "event-publisher"))
	} else {
		log.Warn().Msg("no kafka brokers configured, message events stay in memory")
		sink = events.NewMemorySink()
	}

	pipeline, err := common.NewPipeline(limiter, ledger, optOuts, sink, logger.Component(&log, "pipeline"),
		common.WithProviderTimeout(time.Duration(cfg.Timeouts.ProviderTimeoutSeconds)*time.Second))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise send pipeline")
	}

	refresher, err := oauth.NewRefresher(accounts, logger.Component(&log, "oauth"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise token refresher")
	}

	adapters, err := buildAdapters(ctx, cfg, accounts, pipeline, refresher, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise channel adapters")
	}

	strategies := buildStrategies(cfg, adapters, log)

	broadcasts, err := broadcast.NewEngine(db, contacts, strategies, logger.Component(&log, "broadcast"),
		broadcast.WithMaxConcurrentDispatches(int64(cfg.Dispatch.WorkerConcurrency)),
		broadcast.WithOptOuts(optOuts))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise broadcast engine")
	}

	conversations, err := conversation.NewEngine(db, logger.Component(&log, "conversation"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise conversation engine")
	}

	srv, err := httpapi.NewServer(broadcasts, conversations, adapters, limiter,
		func(string) string { return ratelimit.TierStarter }, logger.Component(&log, "http"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http server")
	}

	go watchAccountHealth(ctx, adapters, accounts, logger.Component(&log, "health"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Int("port", cfg.App.Port).Msg("dispatch server started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server terminated with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

// defaultAccounts builds one channel account per configured provider.
func defaultAccounts(cfg *config.Config) []*models.ChannelAccount {
	now := time.Now()
	return []*models.ChannelAccount{
		{
			ID:          "default-whatsapp",
			TenantID:    "default",
			ChannelType: models.ChannelWhatsApp,
			Credentials: map[string]string{
				"auth_key":          cfg.Providers.WhatsApp.AuthKey,
				"integrated_number": cfg.Providers.WhatsApp.IntegratedNumber,
			},
			Status:       models.AccountStatusActive,
			HealthStatus: models.HealthUnknown,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			ID:          "default-sms",
			TenantID:    "default",
			ChannelType: models.ChannelSMS,
			Credentials: map[string]string{
				"api_key":   cfg.Providers.SMS.APIKey,
				"sender_id": cfg.Providers.SMS.SenderID,
			},
			Status:       models.AccountStatusActive,
			HealthStatus: models.HealthUnknown,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			ID:          "default-email",
			TenantID:    "default",
			ChannelType: models.ChannelEmail,
			Credentials: map[string]string{
				"api_key":      cfg.Providers.Email.APIKey,
				"from_address": cfg.Providers.Email.FromAddress,
			},
			Status:       models.AccountStatusActive,
			HealthStatus: models.HealthUnknown,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
}

func buildAdapters(ctx context.Context, cfg *config.Config, accounts collab.AccountStore, pipeline *common.Pipeline, refresher *oauth.Refresher, log zerolog.Logger) (map[string]common.ChannelAdapter, error) {
	adapters := make(map[string]common.ChannelAdapter, 3)

	waAccount, err := accounts.GetChannelAccount(ctx, "default-whatsapp")
	if err != nil {
		return nil, err
	}
	waProvider, err := factory.WhatsApp(cfg.Providers, logger.Component(&log, "whatsapp-provider"))
	if err != nil {
		return nil, err
	}
	wa, err := whatsappadapter.NewAdapter(waAccount, waProvider, pipeline, refresher, logger.Component(&log, "whatsapp-adapter"))
	if err != nil {
		return nil, err
	}
	adapters[models.ChannelWhatsApp] = wa

	smsAccount, err := accounts.GetChannelAccount(ctx, "default-sms")
	if err != nil {
		return nil, err
	}
	smsProvider, err := factory.SMS(cfg.Providers, logger.Component(&log, "sms-provider"))
	if err != nil {
		return nil, err
	}
	sms, err := smsadapter.NewAdapter(smsAccount, smsProvider, pipeline, logger.Component(&log, "sms-adapter"))
	if err != nil {
		return nil, err
	}
	adapters[models.ChannelSMS] = sms

	emailAccount, err := accounts.GetChannelAccount(ctx, "default-email")
	if err != nil {
		return nil, err
	}
	emailProvider, err := factory.Email(cfg.Providers, logger.Component(&log, "email-provider"))
	if err != nil {
		return nil, err
	}
	email, err := emailadapter.NewAdapter(emailAccount, emailProvider, pipeline, logger.Component(&log, "email-adapter"))
	if err != nil {
		return nil, err
	}
	adapters[models.ChannelEmail] = email

	return adapters, nil
}

func buildStrategies(cfg *config.Config, adapters map[string]common.ChannelAdapter, log zerolog.Logger) map[string]broadcast.Strategy {
	strategies := make(map[string]broadcast.Strategy, 3)
	if wa, ok := adapters[models.ChannelWhatsApp].(*whatsappadapter.Adapter); ok {
		strategies[models.ChannelWhatsApp] = broadcast.NewWhatsAppStrategy(wa, logger.Component(&log, "whatsapp-strategy"))
	}
	if sms, ok := adapters[models.ChannelSMS].(*smsadapter.Adapter); ok {
		pause := time.Duration(cfg.Dispatch.SMSBatchPauseSeconds) * time.Second
		pacer := rate.NewLimiter(rate.Every(pause), 1)
		strategies[models.ChannelSMS] = broadcast.NewSMSStrategy(sms, cfg.Dispatch.SMSBatchSize, pacer, logger.Component(&log, "sms-strategy"))
	}
	strategies[models.ChannelEmail] = broadcast.NewEmailStrategy()
	return strategies
}

// watchAccountHealth probes each adapter periodically and persists the
// outcome on the account row.
func watchAccountHealth(ctx context.Context, adapters map[string]common.ChannelAdapter, accounts collab.AccountStore, log zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for channel, adapter := range adapters {
				report := adapter.HealthStatus(ctx)
				if err := accounts.UpdateHealthStatus(ctx, "default-"+channel, report.Status); err != nil {
					log.Error().Err(err).Str("channel", channel).Msg("health status update failed")
				}
			}
		}
	}
}

func fail(stage string, err error) {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	l.Fatal().Err(err).Str("stage", stage).Msg("dispatch server init failed")
}
