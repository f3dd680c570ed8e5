package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/notifyd/notifyd/internal/cache"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/database"
	"github.com/notifyd/notifyd/internal/httpserver"
	"github.com/notifyd/notifyd/internal/notification"
	"github.com/notifyd/notifyd/internal/sentry"
	"github.com/notifyd/notifyd/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logCfg := telemetry.DefaultLogConfig()
	logCfg.Level = telemetry.LogLevel(cfg.LogLevel)
	logCfg.Format = cfg.LogFormat
	if cfg.LogFile != "" {
		logCfg.Output = cfg.LogFile
		logCfg.Rotation = true
	}
	if err := telemetry.InitGlobalLogger(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := telemetry.GetGlobalLogger()

	if err := sentry.Init(sentry.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}); err != nil {
		logger.WithError(err).Warn("Sentry initialization failed, continuing without error tracking")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenInstrumented(cfg.DatabaseURL, "notifyd")
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer func() { _ = db.Close() }()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := db.WaitReady(waitCtx, 30); err != nil {
		cancel()
		logger.WithError(err).Fatal("Database not reachable")
	}
	cancel()

	var cacheSvc *cache.Service
	if cfg.RedisURL != "" {
		cacheSvc, err = cache.New(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without stats cache")
			cacheSvc = nil
		} else {
			defer func() { _ = cacheSvc.Close() }()
		}
	}

	directory := buildDirectory(cfg, logger)

	senders := notification.NewDeliverySet()
	senders.Register(notification.NewTelegramSender(cfg.TelegramBotToken))
	senders.Register(notification.NewSMSSender(cfg.SMSRuAPIID, cfg.SMSRuFrom))
	senders.Register(notification.NewEmailSender(notification.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}))

	notifCfg := notification.LoadConfig()
	store := notification.NewPostgresStore(db)
	processor := notification.NewProcessor(store, senders, directory, notifCfg, logger)
	dispatcher := notification.NewDispatcher(store, processor, notifCfg, logger)
	service := notification.NewService(store, directory, cacheSvc, dispatcher, notifCfg, logger)

	server := httpserver.New(cfg.HTTPAddr, service, db, cacheSvc, logger, cfg.IsDevelopment())

	dispatcher.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown failed")
		}

		dispatcher.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
	logger.Info("notifyd exited")
}

func buildDirectory(cfg config.Config, logger *telemetry.Logger) notification.Directory {
	contacts := notification.SeedContacts()
	if cfg.ContactsJSON != "" {
		parsed, err := notification.ParseContactsJSON([]byte(cfg.ContactsJSON))
		if err != nil {
			logger.WithError(err).Fatal("Invalid NOTIFYD_CONTACTS")
		}
		contacts = parsed
	}
	return notification.NewStaticDirectory(contacts)
}
