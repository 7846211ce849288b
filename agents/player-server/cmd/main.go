package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	playerserver "adstream/agents/player-server"
	"adstream/shared/acquisition"
	"adstream/shared/ai"
	"adstream/shared/catalog"
	"adstream/shared/config"
	"adstream/shared/logging"
	"adstream/shared/monitoring"
	"adstream/shared/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.ValidatePlayerServer(); err != nil {
		log.Fatalf("Failed to validate Player Server configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cat, err := catalog.FromConfig(ctx, cfg.Catalog, logger)
	if err != nil {
		logger.Fatal("failed to load ad catalog", zap.Error(err))
	}

	kv, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer func() { _ = kv.Close() }()

	settings := storage.NewSettings(kv)
	cache := storage.NewScheduleCache(kv, cfg.Storage.CachePrefix)
	generator := ai.NewGenerator(cfg.AI, cat, logger)
	source := acquisition.NewSource(cfg, cache, settings, generator, cat, logger)

	server := playerserver.New(cfg, playerserver.Options{
		Catalog:  cat,
		Settings: settings,
		Source:   source,
		Monitor:  monitoring.NewMonitor(logger),
	}, logger)

	logger.Info("starting player server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("video_dir", cfg.Server.VideoDir),
		zap.String("mode", cfg.Acquisition.Mode),
		zap.Int("catalog_ads", cat.Len()))

	if err := server.ListenAndServe(ctx); err != nil {
		logger.Fatal("player server failed", zap.Error(err))
	}
}
