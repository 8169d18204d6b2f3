package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/audit"
	"github.com/Dan9191/bank-transfer-core/internal/config"
	"github.com/Dan9191/bank-transfer-core/internal/events/kafka"
	"github.com/Dan9191/bank-transfer-core/internal/handler"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/Dan9191/bank-transfer-core/internal/repository/memory"
	"github.com/Dan9191/bank-transfer-core/internal/risk"
	"github.com/Dan9191/bank-transfer-core/internal/service"
	"github.com/Dan9191/bank-transfer-core/internal/utils/email"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize storage
	var store repository.Store
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		store = memory.NewStore(cfg.LockTimeout)
	default:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		if cfg.MigrateOnStart {
			if err := repository.Migrate(db, logger); err != nil {
				logger.Fatalf("Failed to migrate database: %v", err)
			}
		}
		store = repository.NewRepository(db, cfg.LockTimeout)
	}

	// Initialize layers
	screener := risk.NewEngine(risk.DefaultRules(risk.Thresholds{
		Large:    cfg.RiskLargeAmount,
		Moderate: cfg.RiskModerateAmount,
	})...)

	trail := audit.NewTrail(store, logger, cfg.AuditQueueSize)
	if err := trail.Start(cfg.AuditFlushSchedule); err != nil {
		logger.Fatalf("Failed to start audit flusher: %v", err)
	}

	var opts []service.Option
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts = append(opts, service.WithPublisher(publisher))
		logger.Infof("Publishing transfer events to %v", cfg.KafkaBrokers)
	}
	if cfg.SMTPHost != "" {
		sender, err := email.NewSender(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to configure email: %v", err)
		}
		defer sender.Close()
		opts = append(opts, service.WithNotifier(sender))
	} else {
		logger.Warn("SMTP_HOST not set, blocked transfers will not be escalated by email")
	}

	svc := service.NewService(store, trail, screener, logger, cfg, opts...)

	if cfg.AdminPassword != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := svc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to create admin user: %v", err)
		}
	}

	h := handler.NewHandler(svc, logger)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	trail.Stop(ctx)
}
