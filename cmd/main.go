package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"coastal-alert-service/internal/api"
	"coastal-alert-service/internal/config"
	"coastal-alert-service/internal/db"
	"coastal-alert-service/internal/kafka"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/providers"
	"coastal-alert-service/internal/services"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var store services.Store
	switch cfg.DB.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		store = db.NewMemoryStore()
	default:
		dbConn, err := db.New(ctx, cfg.DB.DSN, logger)
		if err != nil {
			logger.Fatalf("Database connection failed: %v", err)
		}
		defer dbConn.Close()
		if err := dbConn.Migrate(ctx); err != nil {
			logger.Fatalf("Database migration failed: %v", err)
		}
		store = dbConn
	}

	// Notification service
	gateway, err := providers.NewGateway(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("SMS gateway init failed: %v", err)
	}
	svc := services.New(store, gateway, logger, cfg)

	reporter, err := providers.NewTelegramReporter(cfg, logger)
	if err != nil {
		logger.Errorf("Telegram dispatch reports disabled: %v", err)
	} else if reporter != nil {
		svc.SetReporter(reporter)
		logger.Info("Telegram dispatch reports enabled")
	}

	svc.Start()

	// Kafka consumer
	var wg sync.WaitGroup
	var consumer *kafka.Consumer
	if brokers := kafka.ParseBrokers(cfg.Kafka.Broker); len(brokers) > 0 {
		consumer = kafka.NewConsumer(kafka.Config{
			Brokers: brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, svc, logger)
		consumer.Start(ctx, &wg)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
	} else {
		logger.Info("KAFKA_BROKER not set, alert ingestion from Kafka disabled")
	}

	// API server
	srv := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           api.NewRouter(svc, logger, cfg),
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Errorf("Kafka consumer close failed: %v", err)
		}
	}
	wg.Wait()
	svc.Stop()
	logger.Info("Service stopped")
}
