package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	cachewarmer "adstream/agents/cache-warmer"
	"adstream/shared/config"
	"adstream/shared/logging"
	"adstream/shared/scheduler"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.ValidateCacheWarmer(); err != nil {
		log.Fatalf("Failed to validate Cache Warmer configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Create context that responds to signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agent := cachewarmer.NewCacheWarmerAgent(cfg, logger)
	defer agent.Close()
	s := scheduler.New(cfg, agent, logger)

	if len(os.Args) > 1 && os.Args[1] == "--once" {
		fmt.Println("Running once...")
		if err := agent.Initialize(ctx); err != nil {
			logger.Fatal("failed to initialize agent", zap.Error(err))
		}

		if err := s.RunOnce(ctx); err != nil {
			logger.Fatal("run failed", zap.Error(err))
		}
		return
	}

	fmt.Println("Starting scheduler...")
	if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("scheduler failed", zap.Error(err))
	}
}
