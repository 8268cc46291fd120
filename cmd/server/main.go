package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sonarboard/internal/api"
	"sonarboard/internal/client"
	"sonarboard/internal/config"
	"sonarboard/internal/logger"
	"sonarboard/internal/refresh"
	"sonarboard/internal/report"
	"sonarboard/internal/scheduler"
	"sonarboard/internal/storage"
	"sonarboard/internal/storage/postgres"
	"sonarboard/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.SetDefault(logger.New(&logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "sonarboard",
	}))
	appLog := logger.Default()

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	// Quality API client
	qualityClient := client.New(client.Options{
		BaseURL:    cfg.SonarAPIURL,
		Token:      cfg.SonarToken,
		MinVersion: cfg.SonarMinVersion,
		RateLimit:  cfg.RateLimitInterval,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryBaseDelay,
		CacheTTL:   cfg.CacheTTL,
	})

	runner := refresh.NewRunner(qualityClient, store, cfg.FailureThreshold)
	engine := report.NewEngine(store, cfg.AlertThresholds, cfg.ScoreWeights, cfg.AlertSweepInterval)
	mailer := report.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)

	sched := scheduler.New(store, qualityClient, runner, engine, mailer, scheduler.Options{
		DailyReportHour:    cfg.DailyReportHour,
		WeeklyReportDay:    cfg.WeeklyReportDay,
		WeeklyReportHour:   cfg.WeeklyReportHour,
		AlertSweepInterval: cfg.AlertSweepInterval,
		ReportRetryDelay:   cfg.ReportRetryDelay,
		ReportRetryMax:     cfg.ReportRetryMax,
		DefaultInterval:    time.Duration(cfg.DefaultUpdateInterval) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	handler := api.NewHandler(store, sched, engine)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	appLog.WithFields(logger.Fields{
		"addr":    addr,
		"storage": cfg.StorageType,
	}).Info("starting API server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		appLog.WithError(err).Error("API server exited")
		os.Exit(1)
	case sig := <-sigCh:
		appLog.WithField("signal", sig.String()).Info("shutting down")
	}
}
