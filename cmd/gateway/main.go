package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/cartops-systems/cartops-gateway/internal/config"
	"github.com/cartops-systems/cartops-gateway/internal/dispatch"
	"github.com/cartops-systems/cartops-gateway/internal/handlers"
	"github.com/cartops-systems/cartops-gateway/internal/idempotency"
	"github.com/cartops-systems/cartops-gateway/internal/logging"
	"github.com/cartops-systems/cartops-gateway/internal/messaging"
	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/ratelimit"
	"github.com/cartops-systems/cartops-gateway/internal/server"
	"github.com/cartops-systems/cartops-gateway/internal/service"
	"github.com/cartops-systems/cartops-gateway/internal/signature"
	"github.com/cartops-systems/cartops-gateway/internal/store"
	"github.com/cartops-systems/cartops-gateway/internal/syncbatch"
	"github.com/cartops-systems/cartops-gateway/internal/tokens"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("gateway"))
	logging.SetDefault(logger)

	slog.Info("Starting webhook gateway",
		slog.Int("port", cfg.Server.Port),
		slog.String("environment", cfg.Environment),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}
	if cfg.IsProduction() && cfg.Square.SignatureKey == "" {
		log.Fatal("square.signature_key is required in production")
	}

	// Run database migrations
	m, err := migrate.New("file://"+cfg.Database.MigrationsPath, cfg.Database.URL)
	if err != nil {
		slog.Error("Failed to initialize migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		slog.Error("Failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Connect to the data store
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pg, err := store.NewPostgres(ctx, cfg.Database.URL)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	// Initialize rate limiter
	var limiter ratelimit.RateLimiter
	if cfg.Ingestion.RateLimitEnabled {
		limiter, err = ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
			false,
		)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis rate limiter: %v", err)
			log.Println("Continuing without rate limiting")
			limiter = &ratelimit.NoOpRateLimiter{}
		} else {
			log.Printf("Rate limiting enabled: %d requests per %s", cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
		}
	} else {
		limiter = &ratelimit.NoOpRateLimiter{}
		log.Println("Rate limiting disabled in configuration")
	}
	defer limiter.Close()

	// Initialize NATS publisher
	var publisher messaging.Publisher
	if cfg.NATS.Enabled {
		natsCfg := messaging.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		pub, err := messaging.NewNATSPublisher(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = pub
		log.Printf("NATS publisher connected: %s", cfg.NATS.URL)
	} else {
		publisher = messaging.NoOpPublisher{}
		log.Println("NATS disabled - downstream forwarding is a no-op")
	}
	defer publisher.Close()

	// Wire the pipeline
	guard := idempotency.NewGuard(pg)
	router := dispatch.NewRouter(pg, publisher, logger)
	applier := syncbatch.NewApplier(router, pg, guard, logger)
	router.SetApplier(applier)

	tokenGen := tokens.NewTokenGenerator(cfg.Agent.TokenSecret, cfg.Agent.TokenTTL)

	svc := service.NewWebhookService(service.Deps{
		Verifier:         signature.NewVerifier(cfg.Square.SignatureKey),
		Guard:            guard,
		Router:           router,
		Tokens:           tokenGen,
		Agents:           pg,
		Logger:           logger,
		NotificationURL:  cfg.Square.NotificationURL,
		RequireSignature: cfg.IsProduction(),
		AgentConfig: models.AgentConfig{
			SyncIntervalSeconds: int(cfg.Agent.SyncInterval.Seconds()),
			GPSIntervalSeconds:  int(cfg.Agent.GPSInterval.Seconds()),
			APIURL:              cfg.Agent.APIURL,
		},
	})

	handler := handlers.NewWebhookHandler(svc, limiter, pg, logger, int64(cfg.Ingestion.MaxBodySize))

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Webhook gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
