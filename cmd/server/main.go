// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/handoff-backend/internal/cache"
	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/router"
	"github.com/javajoker/handoff-backend/internal/services"
)

func main() {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Environment != "production" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.LocalesPath, cfg.I18n.DefaultLocale); err != nil {
		logger.WithError(err).Fatal("Failed to initialize i18n")
	}

	deps := router.Collaborators{
		Logger: logger,
		Bus:    events.NewBus(256, logger),
	}
	defer deps.Bus.Close()

	publishers := events.MultiPublisher{deps.Bus}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.DialKafka(cfg.Kafka, 5, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect Kafka")
		}
		kafka := events.NewKafkaPublisher(producer, cfg.Kafka.TopicPrefix, logger)
		defer kafka.Close()
		publishers = append(publishers, kafka)
	}
	deps.Publisher = publishers

	if cfg.Redis.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.Connect(ctx, cfg.Redis)
		cancel()
		if err != nil {
			// The cache only serves read models; run without it.
			logger.WithError(err).Warn("Redis unavailable, serving reads from the database")
		} else {
			defer client.Close()
			deps.Cache = cache.NewJSONCache(client, time.Duration(cfg.Redis.CacheTTL)*time.Second, logger)
		}
	}

	if cfg.Payment.StripeSecretKey != "" {
		deps.Gateway = services.NewStripeGateway(cfg.Payment.StripeSecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, payments are not verified with the processor")
	}

	svc, err := router.NewServices(db, cfg, deps)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if interval := time.Duration(cfg.Delivery.SettleIntervalMinutes) * time.Minute; interval > 0 {
		go svc.Settler.Run(sweepCtx, interval)
	}

	// Initialize router
	r := router.Initialize(db, cfg, svc, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	stopSweep()

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
