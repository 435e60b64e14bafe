package models

import (
	"log/slog"
	"os"

	"github.com/HatiCode/junctioncast/cmd/dashboard/config"
	"github.com/HatiCode/junctioncast/pkg/features"
	"github.com/HatiCode/junctioncast/pkg/models"
)

// New builds the configured regressor. Exits the process on an unknown type.
func New(cfg *config.Config, logger *slog.Logger) models.Model {
	switch cfg.Model {
	case "forest":
		fc := models.ForestConfig{
			Trees:          cfg.Trees,
			MaxDepth:       cfg.MaxDepth,
			MinSamplesLeaf: cfg.MinSamplesLeaf,
			Seed:           cfg.Seed,
			Workers:        cfg.Workers,
		}
		logger.Info("initializing random forest model",
			"trees", fc.Trees,
			"max_depth", fc.MaxDepth,
			"min_samples_leaf", fc.MinSamplesLeaf,
			"seed", fc.Seed,
			"workers", fc.Workers,
		)
		return models.NewRandomForest(fc)

	case "baseline":
		logger.Info("initializing baseline model", "keys", features.BaselineKeys)
		return models.NewBaselineModel(features.BaselineKeys...)

	default:
		logger.Error("invalid model type", "model", cfg.Model)
		os.Exit(1)
	}

	return nil
}
