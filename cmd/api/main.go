package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-retail-checkout/internal/cart"
	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/config"
	"github.com/ariefcatur/go-retail-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/go-retail-checkout/internal/kafka"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/notify"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
	"github.com/ariefcatur/go-retail-checkout/internal/reports"
	"github.com/ariefcatur/go-retail-checkout/internal/sales"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.New(logging.Options{Component: "api", Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStartup {
		if err := postgres.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// one producer per topic, each with its own write loop
	prodCtx, stopProducers := context.WithCancel(context.Background())
	defer stopProducers()
	producers := map[string]*kafkax.Producer{}
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged, orders.TopicOrderDeleted} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, log)
		p.Start(prodCtx)
		producers[topic] = p
	}

	productRepo := &catalog.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	salesRepo := &sales.Repo{DB: db}
	noticeRepo := &notify.Repo{DB: db}
	feed := &catalog.Feed{Redis: rdb, Log: log}

	coord := cart.NewCoordinator(cart.Options{
		Stock:  productRepo,
		Orders: orderRepo,
		Store:  cart.NewRedisStore(rdb),
		Feed:   feed,
		Publishers: cart.Publishers{
			Created:       producers[orders.TopicOrderCreated],
			StatusChanged: producers[orders.TopicOrderStatusChanged],
			Deleted:       producers[orders.TopicOrderDeleted],
		},
		Logger:      log,
		ServiceName: cfg.ServiceName,
	})

	router := httpx.NewRouter(httpx.Deps{
		Log:     log,
		Metrics: httpx.NewMetrics(),
		Catalog: productRepo,
		Feed:    feed,
		Cart:    coord,
		Orders:  orderRepo,
		Sales:   salesRepo,
		Reports: &reports.Service{
			Sales:    salesRepo,
			Products: productRepo,
			Notices:  noticeRepo,
			LowLevel: cfg.LowStockLevel,
		},
		Notices:        noticeRepo,
		Redis:          rdb,
		Timeout:        cfg.RequestTimeout,
		CheckoutPerMin: cfg.CheckoutPerMin,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	janitor := &cart.Janitor{C: coord, IdleTTL: cfg.CartIdleTTL, Every: cfg.CartSweepEvery}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("cart janitor started", slog.Duration("idle_ttl", cfg.CartIdleTTL), slog.Duration("every", cfg.CartSweepEvery))
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	err = g.Wait()

	// flush what is queued before the process exits
	for _, p := range producers {
		p.Close()
	}
	for _, p := range producers {
		p.WaitClosed()
	}
	return err
}
