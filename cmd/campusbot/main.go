package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"campusbot/internal/admin"
	"campusbot/internal/config"
	"campusbot/internal/conversation"
	"campusbot/internal/dna"
	"campusbot/internal/events"
	"campusbot/internal/httpapi"
	"campusbot/internal/knowledge"
	"campusbot/internal/metrics"
	"campusbot/internal/notify"
	"campusbot/internal/optimizer"
	"campusbot/internal/providers/registry"
	"campusbot/internal/queue"
	"campusbot/internal/speech"
	"campusbot/internal/storage"
	"campusbot/internal/telegram"
	"campusbot/internal/worker"
)

const sessionSweepInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("mode", cfg.AppMode).
		Str("owner_id", cfg.OwnerID).
		Str("model_provider", cfg.Model.Provider).
		Bool("telegram", cfg.Telegram.Enabled()).
		Bool("dev_polling", cfg.Telegram.DevPolling).
		Msg("starting campusbot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	hub := notify.NewHub(rdb, cfg.Redis.KeyPrefix, log.Logger)
	if err := hub.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to change notifications")
	}

	m := metrics.Global()
	provider, err := registry.Build(registry.BuildOptions{
		Kind:        cfg.Model.Provider,
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.Model,
		SearchTool:  cfg.Model.SearchTool,
		HTTPClient:  &http.Client{Timeout: cfg.Model.ClientTimeout},
		MaxAttempts: cfg.Model.MaxAttempts,
		BackoffBase: cfg.Model.BackoffBase,
		Logger:      log.Logger,
		Metrics:     m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build model provider")
	}

	kb, err := knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Knowledge.Path).Msg("failed to load knowledge base")
	}
	log.Info().Int("records", kb.Len()).Msg("knowledge base loaded")

	mirror := dna.NewMirror(dna.MirrorConfig{
		Store:    store,
		Notifier: hub,
		OwnerID:  cfg.OwnerID,
		Logger:   log.Logger,
		Metrics:  m,
	})
	dnaSub, err := mirror.Subscribe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to bot dna")
	}
	defer dnaSub.Close()

	eventsAdapter := events.New(events.Config{
		Store:    store,
		Notifier: hub,
		Logger:   log.Logger,
		Metrics:  m,
	})
	voices := speech.NewCatalog(cfg.Speech.Voices, cfg.Speech.DefaultVoice)
	sessions := conversation.NewSessions(conversation.SessionsConfig{
		Provider:  provider,
		DNA:       dnaSub,
		Events:    eventsAdapter,
		Knowledge: kb.JSON(),
		Voices:    voices,
		Synth:     speech.LogSynthesizer{Logger: log.Logger},
		Location:  cfg.Location,
		IdleTTL:   cfg.Session.IdleTTL,
		Logger:    log.Logger,
		Metrics:   m,
	})
	go sessions.Run(ctx, sessionSweepInterval)

	optimizerPipeline := optimizer.New(optimizer.Config{
		Provider: provider,
		Updater:  mirror,
		Logger:   log.Logger,
		Metrics:  m,
	})
	gate := admin.NewGate(admin.Config{
		Redis:   rdb,
		Prefix:  cfg.Redis.KeyPrefix,
		Secret:  cfg.OperatorSecret,
		TTL:     cfg.Admin.SessionTTL,
		Auditor: store,
		Logger:  log.Logger,
	})
	rateLimiter := queue.NewRateLimiter(rdb, cfg.Redis.KeyPrefix, cfg.Rate.PerHour)
	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)

	var bot *gotgbot.Bot
	if cfg.Telegram.Enabled() {
		bot, err = gotgbot.NewBot(cfg.Telegram.BotToken, nil)
		if err != nil {
			log.Fatal().Msg("failed to create telegram bot: " + sanitizeTelegramErr(err, cfg.Telegram.BotToken))
		}
		log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")
	}

	errCh := make(chan error, 4)
	var updater *ext.Updater
	var webhookHandler http.Handler
	var webhookPath string
	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}

	runPolling := bot != nil && cfg.Telegram.DevPolling && cfg.AppMode != config.ModeWorker
	runWebhook := bot != nil && !runPolling && (cfg.AppMode == config.ModeWebhook || cfg.AppMode == config.ModeAll)
	if runPolling || runWebhook {
		dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
			MaxRoutines:      100,
			UnhandledErrFunc: logTelegramErr,
			Processor: telegram.Processor{
				Dedupe:  queue.NewUpdateDeduplicator(rdb, cfg.Redis.KeyPrefix, cfg.Redis.UpdateTTL),
				Metrics: m,
				Logger:  log.Logger,
			},
		})
		service := telegram.NewService(telegram.Config{
			Queue:       jobQueue,
			RateLimiter: rateLimiter,
			Redis:       rdb,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			Gate:        gate,
			DNA:         dnaSub,
			DNAWriter:   mirror,
			Events:      eventsAdapter,
			Optimizer:   optimizerPipeline,
			Voices:      voices,
			Location:    cfg.Location,
			Logger:      log.Logger,
			Metrics:     m,
		})
		service.Register(dispatcher)
		updater = ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
			UnhandledErrFunc: logTelegramErr,
		})

		if runPolling {
			if err := updater.StartPolling(bot, &ext.PollingOpts{
				EnableWebhookDeletion: true,
				DropPendingUpdates:    true,
				GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
					Timeout: 50,
					RequestOpts: &gotgbot.RequestOpts{
						Timeout: 60 * time.Second,
					},
				},
			}); err != nil {
				log.Fatal().Msg("failed to start polling: " + sanitizeTelegramErr(err, cfg.Telegram.BotToken))
			}
			log.Info().Msg("polling mode started")
		} else {
			path := cfg.Telegram.SecretPath
			if path == "" {
				path = "telegram"
			}
			if cfg.Telegram.PublicURL == "" {
				log.Fatal().Msg("WEBHOOK_URL is required in webhook mode")
			}
			if err := updater.AddWebhook(bot, path, &ext.AddWebhookOpts{SecretToken: cfg.Telegram.SecretToken}); err != nil {
				log.Fatal().Err(err).Msg("failed to configure webhook handler")
			}

			webhookURL := strings.TrimSuffix(cfg.Telegram.PublicURL, "/") + "/" + path
			if _, err := bot.SetWebhook(webhookURL, &gotgbot.SetWebhookOpts{
				DropPendingUpdates: false,
				SecretToken:        cfg.Telegram.SecretToken,
			}); err != nil {
				log.Fatal().Msg("failed to set telegram webhook: " + sanitizeTelegramErr(err, cfg.Telegram.BotToken))
			}
			log.Info().Str("webhook_url", webhookURL).Msg("webhook registered")
			webhookPath = path
			webhookHandler = updater.GetHandlerFunc("/")
		}
	}

	api := httpapi.New(httpapi.Config{
		Sessions:       sessions,
		RateLimiter:    rateLimiter,
		Gate:           gate,
		DNA:            dnaSub,
		DNAWriter:      mirror,
		Events:         eventsAdapter,
		Optimizer:      optimizerPipeline,
		Voices:         voices,
		Audit:          store,
		Location:       cfg.Location,
		HealthPath:     cfg.HTTP.HealthPath,
		MetricsPath:    cfg.HTTP.MetricsPath,
		MetricsHandler: promhttp.Handler(),
		WebhookPath:    webhookPath,
		Webhook:        webhookHandler,
		Ping: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		Logger: log.Logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if bot != nil && (cfg.AppMode == config.ModeWorker || cfg.AppMode == config.ModeAll) {
		w := worker.New(worker.Config{
			Queue:         jobQueue,
			Sessions:      sessions,
			Replier:       worker.TelegramReplier{Bot: bot},
			MaxJobRetries: cfg.Worker.MaxRetries,
			Logger:        log.Logger,
			Metrics:       m,
		})
		go func() {
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("worker failed: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if updater != nil {
		if err := updater.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop updater")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	sessions.Close()

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// sanitizeTelegramErr strips the bot token out of errors that embed the
// request URL.
func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
