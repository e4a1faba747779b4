// Command stockfix clamps negative product quantities left by older data to zero.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/config"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.New(logging.Options{Component: "stockfix", Format: cfg.LogFormat, Level: cfg.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		log.Error("db connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	n, err := (&catalog.Repo{DB: db}).RepairStock(ctx)
	if err != nil {
		log.Error("repair stock", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("stock repaired", slog.Int64("products", n))
}
