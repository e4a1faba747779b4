package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-retail-checkout/internal/config"
	kafkax "github.com/ariefcatur/go-retail-checkout/internal/kafka"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/notify"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.New(logging.Options{Component: "notifier", Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
	if err != nil {
		log.Error("db connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Error("redis connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	svc := &notify.Service{
		Sink:  &notify.Repo{DB: db},
		Redis: rdb,
		Log:   log,
		Name:  cfg.NotifierGroup,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderCreated, cfg.NotifierWorkers, log)
	log.Info("consumer started",
		slog.String("group", cfg.NotifierGroup),
		slog.String("topic", orders.TopicOrderCreated),
		slog.Int("workers", cfg.NotifierWorkers))
	if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
		log.Error("consumer exit", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("consumer stopped")
}
