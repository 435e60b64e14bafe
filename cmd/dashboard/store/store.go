// Package store selects the model-artifact backend for the dashboard.
//
//   - file: the artifact lives at --model-file (default traffic_model.bin).
//     Deleting the file forces a retrain on the next start.
//   - redis: the artifact lives under --redis-key so several dashboard
//     replicas share one trained model.
//   - memory: nothing is persisted; every start trains.
//
// Initialization is fail-fast: an unreachable redis exits the process.
//
//	store := store.New(cfg, logger)
//	defer func() {
//	    if closer, ok := store.(interface{ Close() error }); ok {
//	        closer.Close()
//	    }
//	}()
package store

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/HatiCode/junctioncast/cmd/dashboard/config"
	"github.com/HatiCode/junctioncast/pkg/storage"
)

// New creates the configured artifact store. It never returns nil and calls
// os.Exit(1) when the backend cannot be initialized.
func New(cfg *config.Config, logger *slog.Logger) storage.ArtifactStore {
	switch cfg.Storage {
	case "file":
		logger.Info("initializing file model cache", "path", cfg.ModelFile)
		return storage.NewFileStore(cfg.ModelFile)

	case "redis":
		logger.Info("initializing redis model cache",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"key", cfg.RedisKey,
			"ttl", cfg.RedisTTL,
		)
		redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey, cfg.RedisTTL)
		if err != nil {
			logger.Error("failed to create redis store", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisStore.Ping(ctx); err != nil {
			logger.Error("redis health check failed", "error", err)
			os.Exit(1)
		}
		logger.Info("redis model cache initialized successfully")

		return redisStore

	case "memory":
		logger.Info("initializing in-memory model cache")
		return storage.NewMemoryStore()

	default:
		logger.Error("invalid storage type", "storage", cfg.Storage)
		os.Exit(1)
	}

	return nil
}
