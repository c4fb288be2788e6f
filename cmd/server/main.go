package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/sewaghar/internal/auth"
	"github.com/example/sewaghar/internal/config"
	"github.com/example/sewaghar/internal/dispatch"
	httpapi "github.com/example/sewaghar/internal/http"
	"github.com/example/sewaghar/internal/ingest"
	"github.com/example/sewaghar/internal/lifecycle"
	"github.com/example/sewaghar/internal/logging"
	"github.com/example/sewaghar/internal/payments"
	"github.com/example/sewaghar/internal/routing"
	"github.com/example/sewaghar/internal/storage"
	"github.com/example/sewaghar/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger.Info)
	}

	var store storage.RequestStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
		logger.Info("using postgres request store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory request store")
	}

	var tel telemetry.Store
	if cfg.RedisAddr != "" {
		tel = telemetry.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis telemetry store", "geo_key", cfg.RedisGeoKey)
	} else {
		tel = telemetry.NewMemoryStore()
		logger.Warn("REDIS_ADDR not set, using in-memory telemetry store")
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		logger.Info("telemetry ingest via kafka", "topic", cfg.KafkaTopic)
	}

	registry := dispatch.NewRegistry(logging.ForComponent(logger, "dispatch"))

	svc := lifecycle.NewService(store, logging.ForComponent(logger, "lifecycle"))
	svc.Notify = registry
	if cfg.StripeAPIKey != "" {
		svc.Escrow = payments.NewStripeEscrow(cfg.StripeAPIKey)
		logger.Info("wage escrow enabled")
	}

	router := routing.NewClient(cfg.RoutingAPIKey)
	if cfg.RoutingEndpoint != "" {
		router.Endpoint = cfg.RoutingEndpoint
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Lifecycle:      svc,
		Telemetry:      tel,
		Routing:        router,
		Kafka:          producer,
		Registry:       registry,
		Auth:           auth.NewManager(cfg.JWTSecret, cfg.TokenTTL),
		NearbyRadiusKm: cfg.NearbyRadiusKm,
		Logger:         logging.ForComponent(logger, "http"),
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("sewaghar api listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func runMigrations(dsn string, logf func(string, ...any)) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	logf("migration applied", "file", "001_init.sql")
}
