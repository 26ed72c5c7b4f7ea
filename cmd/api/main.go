package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/cache"
	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/database"
	"github.com/straye-as/quotation-api/internal/gateway"
	"github.com/straye-as/quotation-api/internal/http/handler"
	"github.com/straye-as/quotation-api/internal/http/middleware"
	"github.com/straye-as/quotation-api/internal/http/router"
	"github.com/straye-as/quotation-api/internal/jobs"
	"github.com/straye-as/quotation-api/internal/logger"
	"github.com/straye-as/quotation-api/internal/mailer"
	"github.com/straye-as/quotation-api/internal/pricing"
	"github.com/straye-as/quotation-api/internal/realtime"
	"github.com/straye-as/quotation-api/internal/repository"
	"github.com/straye-as/quotation-api/internal/service"
	"github.com/straye-as/quotation-api/internal/storage"
	"go.uber.org/zap"
)

// @title Straye Quotation API
// @version 1.0
// @description Quotation lifecycle, client portal, payments, refunds and adjustments
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@straye.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @description API Key for system operations
// @Security BearerAuth
// @Security ApiKeyAuth

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	// In development: uses environment variables
	// In staging/production: fetches from Azure Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Postgres schemas are owned by cmd/migrate
	if cfg.Database.Driver == "sqlite" {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	}

	// Quotation snapshots go to local disk or Azure Blob
	archive, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	// Redis is an optional fast path for notification dedup
	dependencies := make(map[string]router.Pinger)
	var redisClient *redis.Client
	var dedupGuard service.DedupGuard
	if cfg.Redis.Enabled {
		redisClient, err = cache.New(ctx, &cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, notification dedup falls back to the database", zap.Error(err))
		} else {
			dedupGuard = cache.NewRedisDedupGuard(redisClient)
			dependencies["redis"] = cache.HealthCheck{Client: redisClient}
			log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	sender := mailer.New(&cfg.SMTP, log)
	sandbox := gateway.NewSandbox(gateway.Credentials{WebhookSecret: cfg.Gateway.WebhookSecret}, log)
	gateways := gateway.NewRegistry(cfg.Gateway.DefaultProvider, sandbox)
	hub := realtime.NewHub(cfg.CORS.AllowedOrigins, log)
	calculator := pricing.NewCalculator(pricing.NewTaxCalculator(cfg.Tax.HomeStateCode, decimal.NewFromFloat(cfg.Tax.Rate)))

	// Initialize repositories
	quotationRepo := repository.NewQuotationRepository(db)
	clientRepo := repository.NewClientRepository(db)
	accessLinkRepo := repository.NewAccessLinkRepository(db)
	responseRepo := repository.NewQuotationResponseRepository(db)
	historyRepo := repository.NewStatusHistoryRepository(db)
	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	refundTimelineRepo := repository.NewRefundTimelineRepository(db)
	adjustmentRepo := repository.NewAdjustmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	preferenceRepo := repository.NewNotificationPreferenceRepository(db)
	emailLogRepo := repository.NewEmailLogRepository(db)
	numberSequenceRepo := repository.NewNumberSequenceRepository(db)

	// Initialize services
	emailService := service.NewEmailDeliveryService(emailLogRepo, sender, cfg.Notification.EmailMaxRetries, cfg.Notification.EmailRetryBatchSize, logger.Named(log, "email"))
	notificationService := service.NewNotificationService(notificationRepo, preferenceRepo, userRepo, emailService, hub, dedupGuard, &cfg.Notification, logger.Named(log, "notifications"))
	numberSequenceService := service.NewNumberSequenceService(numberSequenceRepo, cfg.Quotation.NumberPrefix, log)

	quotationService := service.NewQuotationService(
		db,
		service.QuotationRepositories{
			Quotations:  quotationRepo,
			Clients:     clientRepo,
			AccessLinks: accessLinkRepo,
			Responses:   responseRepo,
			History:     historyRepo,
			Users:       userRepo,
		},
		numberSequenceService,
		calculator,
		archive,
		emailService,
		notificationService,
		&cfg.Quotation,
		cfg.Storage.SnapshotPrefix,
		logger.Named(log, "quotations"),
	)
	paymentService := service.NewPaymentService(db, quotationRepo, paymentRepo, userRepo, gateways, notificationService, logger.Named(log, "payments"))
	refundService := service.NewRefundService(
		db,
		service.RefundRepositories{
			Refunds:    refundRepo,
			Timeline:   refundTimelineRepo,
			Payments:   paymentRepo,
			Quotations: quotationRepo,
			Users:      userRepo,
		},
		gateways,
		notificationService,
		logger.Named(log, "refunds"),
	)
	adjustmentService := service.NewAdjustmentService(db, adjustmentRepo, repository.NewAdjustmentTimelineRepository(db), quotationRepo, paymentRepo, userRepo, calculator.Tax(), notificationService, logger.Named(log, "adjustments"))

	// Scheduled sweeps
	var scheduler *jobs.Scheduler
	var jobRunner handler.JobRunner
	if cfg.Jobs.Enabled {
		scheduler = jobs.NewScheduler(logger.Named(log, "jobs"))
		// runStartupSweep=true expires anything that lapsed while the service was down
		if err := jobs.RegisterAll(scheduler, quotationService, emailService, &cfg.Jobs, log, true); err != nil {
			log.Error("Failed to register jobs", zap.Error(err))
			scheduler = nil
		} else {
			scheduler.Start()
			jobRunner = scheduler
			log.Info("Scheduler started",
				zap.String("expiry_cron", cfg.Jobs.ExpirySweepCron),
				zap.String("email_retry_cron", cfg.Jobs.EmailRetryCron),
				zap.String("expiring_soon_cron", cfg.Jobs.ExpiringSoonCron),
			)
		}
	} else {
		log.Info("Scheduled jobs disabled")
	}

	// Initialize middleware
	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(
		cfg,
		log,
		db,
		authMiddleware,
		rateLimiter,
		router.Handlers{
			Auth:         handler.NewAuthHandler(),
			Quotation:    handler.NewQuotationHandler(quotationService, log),
			Portal:       handler.NewPortalHandler(quotationService, log),
			Payment:      handler.NewPaymentHandler(paymentService, log),
			Refund:       handler.NewRefundHandler(refundService, log),
			Adjustment:   handler.NewAdjustmentHandler(adjustmentService, log),
			Notification: handler.NewNotificationHandler(notificationService, hub, log),
			Admin:        handler.NewAdminHandler(jobRunner, emailService, log),
		},
		dependencies,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		if scheduler != nil {
			ctx := scheduler.Stop()
			<-ctx.Done()
			log.Info("Scheduler stopped")
		}

		// Websockets are hijacked and not tracked by Shutdown
		hub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}

		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Warn("Error closing redis connection", zap.Error(err))
			}
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}
