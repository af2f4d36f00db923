package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zenGate-Global/permitdesk/contracts"
	ownershandler "github.com/zenGate-Global/permitdesk/domains/owners/be/handler"
	ownersservice "github.com/zenGate-Global/permitdesk/domains/owners/be/service"
	verificationshandler "github.com/zenGate-Global/permitdesk/domains/verifications/be/handler"
	verificationsservice "github.com/zenGate-Global/permitdesk/domains/verifications/be/service"
	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	platformlogging "github.com/zenGate-Global/permitdesk/platform/go/logging"
	"github.com/zenGate-Global/permitdesk/platform/go/metrics"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/storage"
)

type config struct {
	Port                string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL         string        `env:"DATABASE_URL"`                                   // required when STORE_BACKEND=postgres
	StoreBackend        string        `env:"STORE_BACKEND" envDefault:"postgres"`            // postgres | memory
	BootstrapSchema     bool          `env:"BOOTSTRAP_SCHEMA" envDefault:"true"`             // apply embedded DDL on start
	AuthProvider        string        `env:"AUTH_PROVIDER" envDefault:"firebase"`            // firebase | hmac | dev
	AuthHMACSecret      string        `env:"AUTH_HMAC_SECRET"`                               // required when AUTH_PROVIDER=hmac
	StorageBackend      string        `env:"STORAGE_BACKEND" envDefault:"gcs"`               // gcs | local | none
	StorageBucket       string        `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir     string        `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local
	CertificateValidity time.Duration `env:"CERTIFICATE_VALIDITY" envDefault:"8760h"`
	CertificateBaseURL  string        `env:"CERTIFICATE_BASE_URL" envDefault:"http://localhost:3000"`
	DatabaseMaxConns    int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	DatabaseMinConns    int32         `env:"DATABASE_MIN_CONNS" envDefault:"0"`
	CORSAllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

func main() {
	ctx := context.Background()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, ready, closeStore := buildStore(ctx, cfg, logger)
	defer closeStore()

	docs, closeStorage := buildDocumentStorage(ctx, cfg, logger)
	defer closeStorage()

	spec, err := contracts.LoadVerification()
	if err != nil {
		logger.Fatal("load contract", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	engineMetrics := metrics.New(prometheus.DefaultRegisterer)
	writer := audit.NewWriter(clock, engineMetrics)

	ownerService := ownersservice.New(store, writer, clock, docs)
	verificationService := verificationsservice.New(store, writer, verificationsservice.Options{
		Clock:   clock,
		Metrics: engineMetrics,
		Issuer: verificationsservice.CertificateIssuer{
			Validity: cfg.CertificateValidity,
			BaseURL:  cfg.CertificateBaseURL,
		},
		Validator: persistence.NewDraftValidator(),
	})

	router := newRouter(routerConfig{
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Auth:           buildAuthMiddleware(ctx, cfg, logger),
		Spec:           spec,
		Owners:         ownershandler.New(ownerService, logger),
		Verifications:  verificationshandler.New(verificationService, logger),
		Metrics:        promhttp.Handler(),
		Ready:          ready,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend),
			zap.String("auth", cfg.AuthProvider),
			zap.String("storage", cfg.StorageBackend),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildStore(ctx context.Context, cfg config, logger *zap.Logger) (persistence.Store, func(context.Context) error, func()) {
	switch cfg.StoreBackend {
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			logger.Fatal("DATABASE_URL required when STORE_BACKEND=postgres")
		}
		pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
			ConnString:      cfg.DatabaseURL,
			ApplicationName: "permitdesk-api",
			MaxConns:        cfg.DatabaseMaxConns,
			MinConns:        cfg.DatabaseMinConns,
		})
		if err != nil {
			logger.Fatal("init postgres pool", zap.Error(err))
		}
		if cfg.BootstrapSchema {
			if err := persistence.BootstrapSchema(ctx, pool); err != nil {
				logger.Fatal("bootstrap schema", zap.Error(err))
			}
		}
		return persistence.NewPostgresStore(pool), pool.Ping, func() { persistence.ClosePool(pool) }
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return persistence.NewMemoryStore(), nil, func() {}
	default:
		logger.Fatal("invalid STORE_BACKEND (use postgres or memory)", zap.String("backend", cfg.StoreBackend))
	}
	return nil, nil, nil
}

func buildDocumentStorage(ctx context.Context, cfg config, logger *zap.Logger) (ownersservice.DocumentStorage, func()) {
	switch cfg.StorageBackend {
	case "gcs":
		if cfg.StorageBucket == "" {
			logger.Fatal("storage bucket required when STORAGE_BACKEND=gcs")
		}
		gcsClient, err := gcsstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		docs := ownersservice.DocumentStorage{Bucket: cfg.StorageBucket, Checker: storage.NewGCSChecker(gcsClient)}
		return docs, func() { _ = gcsClient.Close() }
	case "local":
		if strings.TrimSpace(cfg.StorageLocalDir) == "" {
			logger.Fatal("storage local dir required when STORAGE_BACKEND=local")
		}
		return ownersservice.DocumentStorage{Checker: storage.NewLocalChecker(cfg.StorageLocalDir)}, func() {}
	case "none":
		logger.Warn("document blobs are not checked (STORAGE_BACKEND=none)")
		return ownersservice.DocumentStorage{}, func() {}
	default:
		logger.Fatal("invalid STORAGE_BACKEND (use gcs, local or none)", zap.String("backend", cfg.StorageBackend))
	}
	return ownersservice.DocumentStorage{}, func() {}
}
