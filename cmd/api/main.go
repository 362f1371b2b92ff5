package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/restock/internal/api"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/config"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/logger"
	"github.com/timmy/restock/internal/repository"
	"github.com/timmy/restock/internal/service"
	"github.com/timmy/restock/internal/upstream"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

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

	client := upstream.NewClient(&upstream.ClientConfig{
		AccessKey:      cfg.Upstream.AccessKey,
		SecretKey:      cfg.Upstream.SecretKey,
		Service:        cfg.Upstream.Service,
		RequestTimeout: cfg.Upstream.RequestTimeout,
		Marketplaces:   marketplacesFromConfig(cfg.Marketplaces),
	}, cb)

	worker := service.NewRefreshWorker(catalogRepo, jobRepo, client, appLogger, &service.RefreshConfig{
		BatchSize:   cfg.Refresh.BatchSize,
		MaxRetries:  cfg.Refresh.MaxRetries,
		BackoffBase: cfg.Refresh.BackoffBase,
		StaleWindow: cfg.Refresh.StaleWindow,
	})
	importer := service.NewImportService(catalogRepo, client, appLogger)

	router := api.SetupRouter(api.Deps{
		Worker:   worker,
		Importer: importer,
		Catalog:  catalogRepo,
		Jobs:     jobRepo,
		Breaker:  cb,
		Logger:   appLogger,
	}, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

func marketplacesFromConfig(in map[string]config.MarketplaceConfig) map[string]domain.Marketplace {
	out := make(map[string]domain.Marketplace, len(in))
	for code, m := range in {
		out[code] = domain.Marketplace{
			Code:       code,
			Endpoint:   m.Endpoint,
			Region:     m.Region,
			PartnerTag: m.PartnerTag,
		}
	}
	return out
}
