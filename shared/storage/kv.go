package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adstream/shared/config"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when a key is absent or expired
var ErrNotFound = errors.New("key not found")

// KV is the small key-value store behind the schedule cache and settings
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the backend selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (KV, error) {
	ttl := hoursToDuration(cfg.TTLHours)
	switch cfg.Backend {
	case config.BackendRedis:
		store, err := NewRedisStore(ctx, cfg.Redis, ttl, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return store, nil
	case config.BackendFile, "":
		store, err := NewFileStore(cfg.DataDir, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		if logger != nil {
			logger.Info("file store opened", zap.String("dir", cfg.DataDir), zap.Int("keys", store.Len()))
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func hoursToDuration(h int) time.Duration {
	if h <= 0 {
		return 0
	}
	return time.Duration(h) * time.Hour
}
