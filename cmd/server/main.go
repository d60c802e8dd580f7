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

	integrationapp "github.com/cmp/backend/internal/application/integration"
	"github.com/cmp/backend/internal/domain/ledger"
	"github.com/cmp/backend/internal/infrastructure/config"
	"github.com/cmp/backend/internal/infrastructure/connector"
	"github.com/cmp/backend/internal/infrastructure/credential"
	"github.com/cmp/backend/internal/infrastructure/logger"
	"github.com/cmp/backend/internal/infrastructure/persistence"
	"github.com/cmp/backend/internal/infrastructure/ratelimit"
	"github.com/cmp/backend/internal/infrastructure/telemetry"
	"github.com/cmp/backend/internal/infrastructure/transport"
	"github.com/cmp/backend/internal/interfaces/http/handler"
	"github.com/cmp/backend/internal/interfaces/http/middleware"
	"github.com/cmp/backend/internal/interfaces/http/router"
)

//	@title			Integration Backend API
//	@version		1.0
//	@description	Resilient external-integration backend with a tamper-evident audit ledger

//	@host		localhost:8080
//	@BasePath	/api/v1

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

	log.Info("Starting integration backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// OTEL log export: when enabled, replace the base logger with one that
	// tees every record to the collector as well.
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	if loggerProvider.IsEnabled() {
		bridged, err := telemetry.CreateBridgedLoggerFromConfig(&telemetry.BaseLoggerConfig{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			Output:     cfg.Log.Output,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}, loggerProvider, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatal("Failed to initialize bridged logger", zap.Error(err))
		}
		log = bridged
	}

	// Continuous profiling must start before span profiles are enabled
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:             cfg.Profiling.Enabled,
		ServerAddress:       cfg.Profiling.ServerAddress,
		ApplicationName:     cfg.Profiling.ApplicationName,
		ProfileCPU:          true,
		ProfileAllocObjects: true,
		ProfileAllocSpace:   true,
		ProfileInuseObjects: true,
		ProfileInuseSpace:   true,
		ProfileGoroutines:   true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
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

	// Initialize telemetry providers
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	if profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	// Database observability: query spans via otelgorm plus query and
	// connection pool metrics.
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:          cfg.Telemetry.Enabled,
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	dbMetrics, err := telemetry.NewDBMetrics(meterProvider.Meter("cmp/db"),
		telemetry.DefaultDBMetricsConfig(), log)
	if err != nil {
		log.Fatal("Failed to initialize database metrics", zap.Error(err))
	}
	if err := db.DB.Use(telemetry.NewDBMetricsPlugin(dbMetrics, log)); err != nil {
		log.Warn("Failed to register database metrics plugin", zap.Error(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		dbMetrics.SetSQLDB(sqlDB)
		dbMetrics.StartPoolStatsCollection(ctx)
		defer dbMetrics.Stop()
	}

	connectorMetrics, err := telemetry.NewConnectorMetrics(telemetry.ConnectorMetricsConfig{
		Meter:  meterProvider.Meter("cmp/connector"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to initialize connector metrics", zap.Error(err))
	}

	// Audit ledger over its durable store
	entryStore := persistence.NewGormLedgerEntryStore(db.DB)
	auditLedger := ledger.New(entryStore, ledger.WithLogger(log))

	if cfg.Ledger.VerifyOnStartup {
		log.Info("Verifying audit chain before serving traffic")
		if err := auditLedger.VerifyAll(ctx); err != nil {
			log.Fatal("Audit chain verification failed", zap.Error(err))
		}
		log.Info("Audit chain intact")
	}

	// Credential state store: Redis when configured, database otherwise
	var stateStore credential.StateStore
	if cfg.Redis.Enabled {
		redisStore, err := credential.NewRedisStateStore(credential.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				log.Error("Error closing Redis connection", zap.Error(err))
			}
		}()
		stateStore = redisStore
		log.Info("Credential state backed by Redis")
	} else {
		stateStore = persistence.NewGormCredentialStateRepository(db.DB)
		log.Info("Credential state backed by database")
	}

	credStore := credential.NewStore(stateStore, cfg.Credential.RefreshMargin,
		credential.WithLogger(log), credential.WithMetrics(connectorMetrics))

	// Shared connector infrastructure
	limiter := ratelimit.NewRegistry()
	facade := integrationapp.NewFacade(auditLedger, log, connectorMetrics)

	if cfg.Connectors.Zoho.Enabled {
		desc := cfg.Connectors.Zoho.Descriptor()
		credStore.Register(desc.ID, credential.NewOAuthRefresher(credential.OAuthConfig{
			TokenURL:     cfg.Connectors.Zoho.TokenURL,
			ClientID:     cfg.Connectors.Zoho.ClientID,
			ClientSecret: cfg.Connectors.Zoho.ClientSecret,
			RefreshToken: cfg.Connectors.Zoho.RefreshToken,
		}, cfg.Credential.RefreshTimeout))

		pipeline := connector.NewPipeline(desc, limiter, credStore,
			transport.New(desc.CallTimeout), log, connectorMetrics)
		facade.Register(connector.NewZohoBooksConnector(pipeline, cfg.Connectors.Zoho.OrganizationID))
		log.Info("Connector registered", zap.String("connector_id", desc.ID))
	}

	if cfg.Connectors.Wio.Enabled {
		desc := cfg.Connectors.Wio.Descriptor()
		credStore.Register(desc.ID, credential.NewStaticKeyRefresher(cfg.Connectors.Wio.APIKey))

		pipeline := connector.NewPipeline(desc, limiter, credStore,
			transport.New(desc.CallTimeout), log, connectorMetrics)
		facade.Register(connector.NewWioBankConnector(pipeline))
		log.Info("Connector registered", zap.String("connector_id", desc.ID))
	}

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

	// Middleware stack: request ID first so every later stage can tag its
	// output, then panic recovery, logging, tracing, and request hygiene.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Register API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(handler.NewSystemHandler(db))
	r.Register(handler.NewIntegrationHandler(facade))
	r.Register(handler.NewLedgerHandler(auditLedger, cfg.Ledger.QueryPageSize))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
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
