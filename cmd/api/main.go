package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-bloodbank/internal/audit"
	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
	"github.com/ariefcatur/go-bloodbank/internal/config"
	"github.com/ariefcatur/go-bloodbank/internal/httpx"
	kafkax "github.com/ariefcatur/go-bloodbank/internal/kafka"
	"github.com/ariefcatur/go-bloodbank/internal/postgres"
	"github.com/ariefcatur/go-bloodbank/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Error("db migrate", "error", err)
			os.Exit(1)
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, idempotency and cache calls will fail open", "error", err)
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start()

	svc := bloodbank.NewService(
		&bloodbank.Repo{DB: db},
		&bloodbank.DirectoryRepo{DB: db},
		bloodbank.Options{
			Events:   &kafkax.Publisher{P: prod},
			Logger:   logger,
			Producer: cfg.ServiceName,
		},
	)

	router := httpx.NewRouter()
	h := &httpx.BloodbankHandler{
		Service:      svc,
		Cache:        &redisx.RequestCache{RDB: rdb},
		DonationIdem: &redisx.Idempotency{RDB: rdb, Kind: "donation"},
		RequestIdem:  &redisx.Idempotency{RDB: rdb, Kind: "request"},
		Audit:        &audit.Service{Store: &audit.Repo{DB: db}, Logger: logger},
		Logger:       logger,
		Timeout:      cfg.RequestTimeout,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	prod.Close() // flush buffered events
	prod.WaitClosed()
}
