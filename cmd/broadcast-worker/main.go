package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	smsadapter "github.com/omnidesk/dispatch-engine/internal/adapters/sms"
	whatsappadapter "github.com/omnidesk/dispatch-engine/internal/adapters/whatsapp"
	"github.com/omnidesk/dispatch-engine/internal/broadcast"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/config"
	"github.com/omnidesk/dispatch-engine/internal/events"
	"github.com/omnidesk/dispatch-engine/internal/logger"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/oauth"
	"github.com/omnidesk/dispatch-engine/internal/providers/factory"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
	"github.com/omnidesk/dispatch-engine/internal/store"
	"golang.org/x/time/rate"
)

// broadcast-worker polls for scheduled broadcasts whose send time has
// arrived and dispatches them. It shares the database with the API server
// but owns its own provider connections.
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
	log := baseLogger.With().Str("service", "broadcast-worker").Logger()

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

	accounts := collab.NewMemoryAccounts(workerAccounts(cfg)...)
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

	strategies, err := workerStrategies(ctx, cfg, accounts, pipeline, refresher, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise dispatch strategies")
	}

	engine, err := broadcast.NewEngine(db, contacts, strategies, logger.Component(&log, "broadcast"),
		broadcast.WithMaxConcurrentDispatches(int64(cfg.Dispatch.WorkerConcurrency)),
		broadcast.WithOptOuts(optOuts))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise broadcast engine")
	}

	interval := time.Duration(cfg.Dispatch.SchedulePollSeconds) * time.Second
	log.Info().Dur("poll_interval", interval).Msg("broadcast worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast worker stopping")
			return
		case <-ticker.C:
			dispatched, err := engine.DispatchDue(ctx)
			if err != nil {
				log.Error().Err(err).Msg("scheduled dispatch sweep failed")
				continue
			}
			if dispatched > 0 {
				log.Info().Int("broadcasts", dispatched).Msg("dispatched due broadcasts")
			}
		}
	}
}

func workerAccounts(cfg *config.Config) []*models.ChannelAccount {
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

func workerStrategies(ctx context.Context, cfg *config.Config, accounts collab.AccountStore, pipeline *common.Pipeline, refresher *oauth.Refresher, log zerolog.Logger) (map[string]broadcast.Strategy, error) {
	strategies := make(map[string]broadcast.Strategy, 3)

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
	strategies[models.ChannelWhatsApp] = broadcast.NewWhatsAppStrategy(wa, logger.Component(&log, "whatsapp-strategy"))

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
	pause := time.Duration(cfg.Dispatch.SMSBatchPauseSeconds) * time.Second
	pacer := rate.NewLimiter(rate.Every(pause), 1)
	strategies[models.ChannelSMS] = broadcast.NewSMSStrategy(sms, cfg.Dispatch.SMSBatchSize, pacer, logger.Component(&log, "sms-strategy"))

	strategies[models.ChannelEmail] = broadcast.NewEmailStrategy()

	return strategies, nil
}

func fail(stage string, err error) {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	l.Fatal().Err(err).Str("stage", stage).Msg("broadcast worker init failed")
}
