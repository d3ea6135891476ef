package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbilling "github.com/jobdeck/backend/internal/application/billing"
	"github.com/jobdeck/backend/internal/infrastructure/cache"
	"github.com/jobdeck/backend/internal/infrastructure/config"
	"github.com/jobdeck/backend/internal/infrastructure/event"
	"github.com/jobdeck/backend/internal/infrastructure/logger"
	"github.com/jobdeck/backend/internal/infrastructure/payment"
	"github.com/jobdeck/backend/internal/infrastructure/persistence"
	"github.com/jobdeck/backend/internal/interfaces/http/handler"
	"github.com/jobdeck/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting JobDeck backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Validate the plan catalog before touching any infrastructure
	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatal("Invalid plan catalog", zap.Error(err))
	}

	// Database connection with GORM logging routed through zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Cache backend (redis in deployment, memory for local runs)
	cacheStore, err := cache.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer func() {
		if err := cacheStore.Close(); err != nil {
			log.Error("Error closing cache", zap.Error(err))
		}
	}()
	log.Info("Cache initialized", zap.String("backend", cfg.Cache.Backend))

	// Payment gateway adapter
	gateway, err := payment.NewPaystackAdapter(&payment.PaystackConfig{
		SecretKey:   cfg.Gateway.SecretKey,
		BaseURL:     cfg.Gateway.BaseURL,
		CallbackURL: cfg.Gateway.CallbackURL,
		Timeout:     cfg.Gateway.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to initialize payment gateway", zap.Error(err))
	}

	// Repositories
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	transactionRepo := persistence.NewGormPaymentTransactionRepository(db.DB)
	counterRepo := persistence.NewGormUsageCounterRepository(db.DB)

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)

	// Application services
	subscriptionService := appbilling.NewSubscriptionService(
		subscriptionRepo, transactionRepo, gateway, catalog, eventBus, log,
		appbilling.SubscriptionServiceConfig{
			RenewalGrace:   cfg.Billing.RenewalGrace,
			RecoveryWindow: cfg.Billing.RecoveryWindow,
		})
	meterService := appbilling.NewUsageMeterService(counterRepo, log)
	entitlementService := appbilling.NewEntitlementService(
		subscriptionRepo, catalog, cacheStore, meterService, log,
		appbilling.EntitlementServiceConfig{
			CacheTTL: cfg.Billing.EntitlementTTL,
		})
	webhookProcessor := appbilling.NewWebhookProcessor(
		gateway, cacheStore, subscriptionService, log,
		appbilling.WebhookProcessorConfig{
			DedupTTL: cfg.Billing.DedupTTL,
		})

	// Subscription lifecycle changes invalidate cached entitlement decisions
	// and feed the notification log
	invalidator := appbilling.NewEntitlementCacheInvalidator(entitlementService, log)
	eventBus.Subscribe(invalidator)
	notifier := appbilling.NewSubscriptionNotifier(log)
	eventBus.Subscribe(notifier)
	log.Info("Event handlers registered",
		zap.Strings("entitlement_invalidator_events", invalidator.EventTypes()),
		zap.Strings("notifier_events", notifier.EventTypes()),
	)

	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Background sweep: suspended subscriptions whose recovery window has
	// lapsed become expired
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runExpirySweep(sweepCtx, subscriptionService, cfg.Billing.SweepInterval, log)
	log.Info("Expiry sweep started", zap.Duration("interval", cfg.Billing.SweepInterval))

	// HTTP surface
	billingHandler := handler.NewBillingHandler(subscriptionService, entitlementService)
	webhookHandler := handler.NewWebhookHandler(webhookProcessor)

	engine := router.New(log, cfg.App.Env).
		Register(billingHandler).
		Register(webhookHandler).
		Setup()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Readiness probe with dependency checks
	engine.GET("/health", healthHandler(db, log))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// runExpirySweep periodically expires suspended subscriptions that
// outlived the recovery window
func runExpirySweep(ctx context.Context, svc *appbilling.SubscriptionService, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := svc.ExpireOverdueSuspended(ctx)
			if err != nil {
				log.Error("Expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				log.Info("Expiry sweep completed", zap.Int("expired", expired))
			}
		}
	}
}

// healthHandler reports liveness of the service and its database
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
