package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fuomag9/creator-connect/internal/api"
	"github.com/fuomag9/creator-connect/internal/config"
	"github.com/fuomag9/creator-connect/internal/connect"
	"github.com/fuomag9/creator-connect/internal/connection"
	"github.com/fuomag9/creator-connect/internal/database"
	"github.com/fuomag9/creator-connect/internal/jobs"
	"github.com/fuomag9/creator-connect/internal/logger"
	"github.com/fuomag9/creator-connect/internal/metrics"
	"github.com/fuomag9/creator-connect/internal/oauth"
	"github.com/fuomag9/creator-connect/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Session.Generated {
		log.Warn("SESSION_JWT_SECRET not set, using a random secret; sessions will not verify")
	}
	if !cfg.TikTok.Configured() || cfg.TikTok.ClientSecret == "" {
		log.Warn("TikTok OAuth is not configured; connect requests will fail")
	}

	// Run migrations with the service role
	if err := database.RunMigrations(cfg.ServiceDatabase, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// End-user connection: row-level security applies
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to get database connection", zap.Error(err))
	}
	defer sqlDB.Close()

	// Service-role connection: vault RPCs and the reaper only
	serviceDB, err := database.Connect(cfg.ServiceDatabase, log)
	if err != nil {
		log.Fatal("Failed to connect to service database", zap.Error(err))
	}
	serviceSQLDB, err := serviceDB.DB()
	if err != nil {
		log.Fatal("Failed to get service database connection", zap.Error(err))
	}
	defer serviceSQLDB.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewConnectionCollector(serviceDB, log),
	)
	m := metrics.New(registry)

	// Domain services
	secretStore := vault.NewPostgresStore(serviceDB)
	providers := oauth.NewRegistry(
		oauth.NewTikTokClient(cfg.TikTok, oauth.DefaultTikTokEndpoints, cfg.OAuth.HTTPTimeout),
	)
	svc := connect.NewService(
		providers,
		vault.NewWriter(secretStore, log),
		connection.NewStore(db),
		m,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize job scheduler
	scheduler := jobs.NewScheduler(log)
	if cfg.Reaper.Enabled {
		reaper := jobs.NewSecretReaper(secretStore, serviceDB, cfg.Reaper.Grace, m, log)
		err := scheduler.Add("secret_reaper", cfg.Reaper.Schedule, func(ctx context.Context) error {
			_, err := reaper.Run(ctx)
			return err
		})
		if err != nil {
			log.Fatal("Failed to schedule secret reaper", zap.Error(err))
		}
	}
	scheduler.Start()

	limiter := api.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	go limiter.CleanupOldLimiters(ctx, 10*time.Minute, 30*time.Minute)

	// Setup API router
	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Connect:  svc,
		Limiter:  limiter,
		Gatherer: registry,
		Health: []api.HealthCheck{
			api.DatabaseCheck("database", db),
			api.DatabaseCheck("service_database", serviceDB),
		},
		Logger: log,
	})

	// Callbacks make two sequential provider calls
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.OAuth.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.Int("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)

	log.Info("Server exited")
}
