// Command core is the provider-core service entrypoint: it wires
// configuration, storage, the shared kv store, the Dynamic Provider
// Adapter factory, the Health Monitor, the Catalog Synchronizer (plus
// its scheduler), the Smart Router, and the HTTP surface together in a
// single load-connect-wire-serve sequence.
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

	"github.com/nexnum/provider-core/internal/adapter"
	"github.com/nexnum/provider-core/internal/config"
	"github.com/nexnum/provider-core/internal/exchangerates"
	"github.com/nexnum/provider-core/internal/health"
	"github.com/nexnum/provider-core/internal/httpapi"
	"github.com/nexnum/provider-core/internal/platform/audit"
	"github.com/nexnum/provider-core/internal/platform/kv"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/platform/workerbus"
	"github.com/nexnum/provider-core/internal/registry"
	"github.com/nexnum/provider-core/internal/router"
	"github.com/nexnum/provider-core/internal/searchindex"
	"github.com/nexnum/provider-core/internal/settings"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/nexnum/provider-core/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New("provider-core", logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer logger.Sync()

	db, err := store.Connect(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := store.RunMigrations(cfg.Database); err != nil {
		logger.WithError(err).Warn("failed to run migrations; continuing with existing schema")
	}

	repo := store.NewRepository(db)
	reg := registry.New(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	var kvStore kv.Store = kv.NewRedisStore(rdb)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable at startup, falling back to in-process kv store")
		kvStore = kv.NewMemoryStore()
	}

	index := searchindex.NewClient(cfg.SearchIndex.BaseURL, cfg.SearchIndex.APIKey)
	rates := exchangerates.NewClient(cfg.Platform.BaseURL)
	sysSettings := settings.NewClient(cfg.Platform.BaseURL)

	var auditLog audit.Logger
	if len(cfg.KafkaBrokers) > 0 {
		auditLog = audit.NewKafka(cfg.KafkaBrokers, logger)
	} else {
		auditLog = audit.NewLogOnly(logger)
	}

	var bus workerbus.Bus
	if cfg.NATSUrl != "" {
		natsBus, err := workerbus.NewNATSBus(cfg.NATSUrl)
		if err != nil {
			logger.WithError(err).Warn("failed to connect to NATS, falling back to in-process worker bus")
			bus = workerbus.NewChanBus()
		} else {
			bus = natsBus
		}
	} else {
		bus = workerbus.NewChanBus()
	}

	newAdapter := func(v store.Vendor) *adapter.Adapter { return adapter.New(v, logger) }

	healthCfg := health.Config{
		Window:           time.Duration(cfg.Health.WindowSeconds) * time.Second,
		FailureThreshold: cfg.Health.FailureThreshold,
		HalfOpenRequests: cfg.Health.HalfOpenRequests,
		BaseOpenDuration: cfg.Health.BaseOpenDuration,
	}
	healthMonitor := health.New(kvStore, healthCfg, prometheus.DefaultRegisterer)

	icons := sync.NewIconReconciler("./assets/icons", nil)

	synchronizer := sync.New(repo, reg, index, rates, sysSettings, bus, auditLog, icons, newAdapter, logger, cfg.Sync)
	scheduler := sync.NewScheduler(synchronizer, logger)
	if err := scheduler.Start(ctx, cfg.Sync.IntervalHours, cfg.Sync.RunOnStart); err != nil {
		logger.WithError(err).Fatal("failed to start sync scheduler")
	}

	vendorCache := router.NewActiveVendorCache(kvStore, repo, cfg.Router.ActiveVendorCacheTTL)
	smartRouter := router.New(vendorCache, healthMonitor, index, router.AdapterFactory(newAdapter), auditLog, logger)

	progress := sync.NewProgressFeed(bus, logger)

	apiServer := httpapi.New(synchronizer, repo, smartRouter, logger, cfg.InternalAuthSecret)
	mainHTTP := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	debugHTTP := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.DebugPort),
		Handler: httpapi.NewDebugServer(progress),
	}

	go func() {
		logger.Info(fmt.Sprintf("provider-core listening on :%d", cfg.Server.Port))
		if err := mainHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("main HTTP server failed")
		}
	}()
	go func() {
		logger.Info(fmt.Sprintf("provider-core debug surface listening on :%d", cfg.Server.DebugPort))
		if err := debugHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("debug HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down provider-core")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	if err := mainHTTP.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("main HTTP server forced to shut down")
	}
	if err := debugHTTP.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("debug HTTP server forced to shut down")
	}
	if err := bus.Close(); err != nil {
		logger.WithError(err).Warn("error closing worker bus")
	}
	if err := auditLog.Close(); err != nil {
		logger.WithError(err).Warn("error closing audit logger")
	}

	sqlDB, err := db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
	_ = rdb.Close()

	logger.Info("provider-core stopped")
}
