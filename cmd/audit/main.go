package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-bloodbank/internal/audit"
	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
	"github.com/ariefcatur/go-bloodbank/internal/config"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &audit.Service{
		Store:  &audit.Repo{DB: db},
		Dedup:  &redisx.Dedup{RDB: rdb, Service: "audit"},
		Logger: logger,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.AuditGroup, bloodbank.AllTopics, cfg.AuditWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("audit consumer started", "group", cfg.AuditGroup, "topics", bloodbank.AllTopics, "workers", cfg.AuditWorkers)
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			logger.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("shutting down consumer")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
