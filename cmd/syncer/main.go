package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"erpsync/internal/config"
	"erpsync/internal/cursor"
	"erpsync/internal/publisher"
	"erpsync/internal/scheduler"
	"erpsync/internal/service"
	"erpsync/internal/source/odoo"
	"erpsync/internal/storage/postgres"
	"erpsync/internal/window"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	batchStore := postgres.NewBatchStore(db)
	statusStore := postgres.NewStatusStore(db)
	sessionStore := postgres.NewSessionStore(db)
	recordStore := postgres.NewRecordStore(db)
	tenantStore := postgres.NewTenantStore(db)
	txManager := postgres.NewTransactionManager(db)

	remote := odoo.New(odoo.Config{
		Endpoint: cfg.Remote.Endpoint,
		Timeout:  cfg.Remote.Timeout,
	}, logger)

	sizer := window.New(remote, window.Config{
		LimitPerCall:  cfg.Sync.LimitPerCall,
		MinWindow:     cfg.Sync.MinWindow(),
		MaxIterations: cfg.Sync.MaxWindowSizerIterations,
	}, logger)

	fetcher := cursor.New(remote, cfg.Sync.PageSize, logger)

	syncService := service.NewSyncService(
		remote,
		sizer,
		fetcher,
		batchStore,
		statusStore,
		sessionStore,
		recordStore,
		tenantStore,
		txManager,
		rabbitMQ,
		nil,
		logger,
		cfg.Sync,
	)

	sched := scheduler.NewScheduler(syncService, tenantStore, cfg.Sync.Interval, 30*time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting erp syncer",
		"endpoint", cfg.Remote.Endpoint,
		"modules", cfg.Sync.Modules,
		"interval", cfg.Sync.Interval,
	)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
