package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gym_billing_bot/internal/app"
	"gym_billing_bot/internal/domain/messenger"
	"gym_billing_bot/internal/infra/config"
	idb "gym_billing_bot/internal/infra/database"
	"gym_billing_bot/internal/infra/logger"
	"gym_billing_bot/internal/infra/memstore"
	"gym_billing_bot/internal/infra/scheduler"
	"gym_billing_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()

	log.Infof("Configuration loaded. LogLevel: %s, Environment: %s, Admin chat: %d", cfg.LogLevel, cfg.Environment, cfg.AdminChatID)

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connection established successfully.")

	// Initialize Repositories
	memberRepo := idb.NewPostgresMemberRepository(db)
	paymentRepo := idb.NewPostgresPaymentRepository(db)
	messageRepo := idb.NewPostgresMessageRepository(db)
	auditRepo := idb.NewPostgresAuditRepository(db)
	settingsRepo := idb.NewPostgresSettingsRepository(db)
	log.Info("Repositories initialized.")

	// Dispatch config comes from the settings table and is refreshed on a
	// cron; the first load happens here so the dispatcher never starts on
	// bare defaults when the table is populated.
	dispatchCfg := app.NewDispatchConfigProvider(settingsRepo, log)
	if err := dispatchCfg.Reload(context.Background()); err != nil {
		log.WithError(err).Warn("Initial dispatch config load failed, starting with defaults")
	}

	// Initialize Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"message":   c.Text(),
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Telegram bot error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		// The HTTP fallback still lets notifications out, so a failed bot
		// init is not fatal for the billing side.
		log.WithError(err).Error("Could not create Telegram bot, running with HTTP fallback only")
		bot = nil
	}

	var primary messenger.Client
	var offerSender app.OfferSender
	if bot != nil {
		primary = telegram.NewTelebotAdapter(bot)
		offerSender = telegram.NewWaitlistOfferSender(bot)
	}
	fallback := telegram.NewHTTPClient(cfg.TelegramToken)

	// Dispatch pipeline
	pending := memstore.NewTTLStore(time.Minute)
	defer pending.Close()
	limiter := app.NewRateLimiter(messageRepo, dispatchCfg)
	dispatcher := app.NewDispatcher(primary, fallback, limiter, messageRepo, dispatchCfg, pending, log)

	// Billing state machine and its listeners
	stream := app.NewTransitionStream()
	billingService := app.NewBillingService(memberRepo, paymentRepo, stream, log)
	notificationService := app.NewNotificationService(dispatcher, messageRepo, log, cfg.GymName)
	notificationService.Bind(stream)
	waitlistService := app.NewWaitlistService(auditRepo, memberRepo, messageRepo, dispatcher, offerSender, log)
	adminService := app.NewAdminService(memberRepo, billingService, cfg.AdminChatID)
	log.Info("Services initialized.")

	// Scheduler
	billingScheduler := scheduler.NewBillingScheduler(billingService, waitlistService, dispatchCfg, messageRepo, cfg, log)
	billingScheduler.Start()

	if bot != nil {
		// Register Handlers
		ctx := context.Background()
		baseLogger := log.WithField("component", "telegram")
		bot.Use(telegram.LedgerInbound(messageRepo, baseLogger))
		telegram.RegisterBotCommands(ctx, bot, cfg, memberRepo, baseLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, waitlistService, cfg.AdminChatID, baseLogger)
		telegram.RegisterMemberResponseHandlers(ctx, bot, memberRepo, waitlistService)
		log.Info("Telegram handlers registered.")

		// Start bot in a goroutine so it doesn't block graceful shutdown handling
		go bot.Start()
	}

	log.Info("Application setup complete.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	log.Info("Shutting down application...")
	billingScheduler.Stop()
	if bot != nil {
		bot.Stop()
	}
	dispatcher.Close() // wait for in-flight sends to land in the ledger
	log.Info("Application shut down gracefully.")
}
