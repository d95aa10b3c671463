package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingapp "github.com/clinicops/backend/internal/application/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/infrastructure/cache"
	"github.com/clinicops/backend/internal/infrastructure/config"
	"github.com/clinicops/backend/internal/infrastructure/logger"
	"github.com/clinicops/backend/internal/infrastructure/payment"
	"github.com/clinicops/backend/internal/infrastructure/persistence"
	"github.com/clinicops/backend/internal/infrastructure/telemetry"
	"github.com/clinicops/backend/internal/interfaces/http/handler"
	"github.com/clinicops/backend/internal/interfaces/http/middleware"
	"github.com/clinicops/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Clinic Operations Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize tracing
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Register database query tracing
	dbTracingCfg := telemetry.DefaultDBTracingConfig()
	dbTracingCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTracing := telemetry.NewDBTracingPlugin(dbTracingCfg, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	// Callback deduplication store: Redis when reachable, in-memory otherwise.
	// A single-instance deployment works fine on the in-memory store; redelivered
	// notifications are still safe either way because settlement checks payment
	// state.
	idempotencyStore := newIdempotencyStore(cfg, log)
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Payment gateway adapter
	gatewayAdapter, err := payment.NewP2CAdapter(&payment.P2CConfig{
		BaseURL:        cfg.Gateway.BaseURL,
		MerchantID:     cfg.Gateway.MerchantID,
		APIKey:         cfg.Gateway.APIKey,
		CallbackSecret: cfg.Gateway.CallbackSecret,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	})
	if err != nil {
		log.Fatal("Failed to initialize payment gateway adapter", zap.Error(err))
	}

	// Initialize repositories
	chargeOrderRepo := persistence.NewGormChargeOrderRepository(db.DB)
	paymentRecordRepo := persistence.NewGormPaymentRecordRepository(db.DB)
	auditEventRepo := persistence.NewGormAuditEventRepository(db.DB)
	txManager := persistence.NewGormTransactionManager(db.DB)

	// Initialize application services
	reconciliationService := billingapp.NewReconciliationService(
		chargeOrderRepo, paymentRecordRepo, auditEventRepo, txManager, log,
	)
	chargeOrderQueryService := billingapp.NewChargeOrderQueryService(chargeOrderRepo, paymentRecordRepo)
	gatewayPaymentService := billingapp.NewGatewayPaymentService(billingapp.GatewayPaymentServiceConfig{
		Gateway:          gatewayAdapter,
		OrderRepo:        chargeOrderRepo,
		PaymentRepo:      paymentRecordRepo,
		AuditRepo:        auditEventRepo,
		TxManager:        txManager,
		IdempotencyStore: idempotencyStore,
		IdempotencyCfg: shared.IdempotencyConfig{
			TTL:     cfg.Billing.CallbackDedupTTL,
			Enabled: cfg.Billing.CallbackDedupEnabled,
		},
		Logger: log,
	})

	// Initialize HTTP handlers
	chargeOrderHandler := handler.NewChargeOrderHandler(reconciliationService, chargeOrderQueryService)
	paymentHandler := handler.NewPaymentHandler(reconciliationService, gatewayPaymentService)
	gatewayCallbackHandler := handler.NewGatewayCallbackHandler(gatewayPaymentService)
	systemHandler := handler.NewSystemHandler(map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.Ping() },
	})

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack, outermost first:
	// request ID, panic recovery, request logging, security headers, CORS,
	// institution scoping
	engine.Use(middleware.RequestID())
	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.InstitutionMiddleware())

	// Health probes at the engine root, outside API versioning
	systemHandler.RegisterRootRoutes(engine)

	// API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(chargeOrderHandler).
		Register(paymentHandler).
		Register(gatewayCallbackHandler).
		Register(systemHandler)
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newIdempotencyStore connects to Redis for callback deduplication, falling
// back to the in-memory store when Redis is not available
func newIdempotencyStore(cfg *config.Config, log *zap.Logger) shared.IdempotencyStore {
	store, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, using in-memory callback deduplication", zap.Error(err))
		return cache.NewInMemoryIdempotencyStore()
	}
	log.Info("Redis connected for callback deduplication",
		zap.String("host", cfg.Redis.Host),
		zap.Int("port", cfg.Redis.Port))
	return store
}
