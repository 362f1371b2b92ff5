package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/config"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/logger"
	"github.com/timmy/restock/internal/repository"
	"github.com/timmy/restock/internal/service"
	"github.com/timmy/restock/internal/upstream"
)

// One-shot refresh pass, for cron or manual invocation. Exits non-zero only
// when the run itself cannot start; per-entry failures land in the job ledger.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "restock-refresh",
	})
	logger.SetDefaultLogger(appLogger)

	batchSize := flag.Int("batch", 0, "Batch size override (0 uses config)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *batchSize > 0 {
		cfg.Refresh.BatchSize = *batchSize
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	catalogRepo := repository.NewCatalogRepository(db)
	jobRepo := repository.NewJobRepository(db)

	cb := breaker.New(breaker.Config{
		Name:             "item-upstream",
		FailureThreshold: cfg.Upstream.FailureThreshold,
		CooldownTimeout:  cfg.Upstream.CooldownTimeout,
	}, appLogger)

	marketplaces := make(map[string]domain.Marketplace, len(cfg.Marketplaces))
	for code, m := range cfg.Marketplaces {
		marketplaces[code] = domain.Marketplace{
			Code:       code,
			Endpoint:   m.Endpoint,
			Region:     m.Region,
			PartnerTag: m.PartnerTag,
		}
	}

	client := upstream.NewClient(&upstream.ClientConfig{
		AccessKey:      cfg.Upstream.AccessKey,
		SecretKey:      cfg.Upstream.SecretKey,
		Service:        cfg.Upstream.Service,
		RequestTimeout: cfg.Upstream.RequestTimeout,
		Marketplaces:   marketplaces,
	}, cb)

	worker := service.NewRefreshWorker(catalogRepo, jobRepo, client, appLogger, &service.RefreshConfig{
		BatchSize:   cfg.Refresh.BatchSize,
		MaxRetries:  cfg.Refresh.MaxRetries,
		BackoffBase: cfg.Refresh.BackoffBase,
		StaleWindow: cfg.Refresh.StaleWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Allow Ctrl-C to stop mid-batch; in-flight backoff waits are cancellable.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		appLogger.Info("Interrupt received, stopping after current entry")
		cancel()
	}()

	appLogger.WithFields(logger.Fields{
		"batch_size":   cfg.Refresh.BatchSize,
		"stale_window": cfg.Refresh.StaleWindow.String(),
	}).Info("Starting refresh run")

	result, err := worker.Run(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Refresh run failed")
	}

	appLogger.WithFields(logger.Fields{
		"processed": result.Processed,
		"success":   result.Success,
		"failure":   result.Failure,
		"skipped":   result.Skipped,
	}).Info("Refresh run completed")
	logger.Sync()
}
