package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/junctioncast/cmd/dashboard/metrics"
	"github.com/HatiCode/junctioncast/cmd/dashboard/router"
	"github.com/HatiCode/junctioncast/pkg/congestion"
	"github.com/HatiCode/junctioncast/pkg/dataset"
	"github.com/HatiCode/junctioncast/pkg/features"
	"github.com/HatiCode/junctioncast/pkg/modelcache"
	"github.com/HatiCode/junctioncast/pkg/models"
	"github.com/HatiCode/junctioncast/pkg/prediction"
	"github.com/HatiCode/junctioncast/pkg/storage"
)

// ErrNotReady is returned by Ready until Bootstrap has completed.
var ErrNotReady = errors.New("dashboard has not finished bootstrapping")

const readyTimeout = 2 * time.Second

// Dashboard runs the startup pipeline: load → features → train or restore,
// and then holds the read-only state the HTTP and gRPC handlers serve from.
type Dashboard struct {
	dataPath string
	builder  *features.Builder
	model    models.Model
	store    storage.ArtifactStore
	cache    *modelcache.Manager
	policy   congestion.Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger

	table   *dataset.Table
	service *prediction.Service
	outcome modelcache.Outcome
}

// New creates a Dashboard. m may be nil.
func New(
	dataPath string,
	model models.Model,
	store storage.ArtifactStore,
	policy congestion.Policy,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dashboard{
		dataPath: dataPath,
		builder:  features.NewBuilder(),
		model:    model,
		store:    store,
		cache:    modelcache.New(store, logger),
		policy:   policy,
		metrics:  m,
		logger:   logger,
	}
}

// Bootstrap loads the dataset and makes the model ready to serve.
// It must complete before Service, ModelInfo or Deps are used.
func (d *Dashboard) Bootstrap(ctx context.Context) error {
	start := time.Now()

	table, loadDuration, err := d.load()
	if err != nil {
		d.recordError("dataset", "load")
		return fmt.Errorf("load dataset: %w", err)
	}

	frame, err := d.buildFeatures(table)
	if err != nil {
		d.recordError("features", "build")
		return fmt.Errorf("build features: %w", err)
	}

	outcome, err := d.cache.LoadOrTrain(ctx, d.model, frame, table.Fingerprint)
	if err != nil {
		d.recordError("model", modelErrorReason(err))
		return fmt.Errorf("prepare model: %w", err)
	}
	d.observeOutcome(outcome)

	opts := []prediction.Option{prediction.WithLogger(d.logger)}
	if d.metrics != nil {
		opts = append(opts, prediction.WithObserver(d.metrics))
	}

	d.table = table
	d.outcome = outcome
	d.service = prediction.NewService(d.model, d.builder, d.policy, table.Junctions(), opts...)

	d.logger.Info("dashboard ready",
		"records", table.Len(),
		"junctions", table.Junctions(),
		"model", outcome.Model,
		"source", outcome.Source,
		"stale", outcome.Stale,
		"load_ms", loadDuration.Milliseconds(),
		"model_ms", outcome.Duration.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (d *Dashboard) load() (*dataset.Table, time.Duration, error) {
	start := time.Now()

	table, err := dataset.LoadFile(d.dataPath)
	if err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)
	d.logger.Debug("loaded dataset",
		"path", d.dataPath,
		"records", table.Len(),
		"fingerprint", table.Fingerprint,
		"duration_ms", duration.Milliseconds(),
	)
	if d.metrics != nil {
		d.metrics.SetDatasetRecords(table.Len())
	}
	return table, duration, nil
}

func (d *Dashboard) buildFeatures(table *dataset.Table) (models.FeatureFrame, error) {
	frame, err := d.builder.BuildFeatures(table)
	if err != nil {
		return models.FeatureFrame{}, err
	}

	d.logger.Debug("built features", "rows", len(frame.Rows), "columns", frame.Columns)
	return frame, nil
}

func (d *Dashboard) observeOutcome(out modelcache.Outcome) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordModelLoad(string(out.Source))
	if out.Source == modelcache.SourceTrained {
		d.metrics.ObserveTrain(out.TrainDuration)
		if out.Evaluation != nil {
			d.metrics.SetTrainR2(out.Evaluation.R2)
		}
	}
}

func (d *Dashboard) recordError(component, reason string) {
	if d.metrics != nil {
		d.metrics.RecordError(component, reason)
	}
}

func modelErrorReason(err error) string {
	switch {
	case errors.Is(err, modelcache.ErrSchemaMismatch), errors.Is(err, modelcache.ErrModelMismatch):
		return "mismatch"
	case errors.Is(err, modelcache.ErrCorruptArtifact), errors.Is(err, modelcache.ErrUnsupportedVersion):
		return "corrupt"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "train"
	}
}

// Service returns the prediction service.
func (d *Dashboard) Service() *prediction.Service {
	return d.service
}

// Ready reports whether the dashboard can serve traffic: Bootstrap has
// finished and, for stores that support it, the artifact store answers a ping.
func (d *Dashboard) Ready() error {
	if d.service == nil {
		return ErrNotReady
	}
	if pinger, ok := d.store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("model cache %s: %w", d.store.Name(), err)
		}
	}
	return nil
}

// ModelInfo summarizes the serving model for the API.
func (d *Dashboard) ModelInfo() router.ModelInfo {
	info := router.ModelInfo{
		Name:            d.outcome.Model,
		Source:          string(d.outcome.Source),
		TrainedAt:       d.outcome.TrainedAt,
		Fingerprint:     d.outcome.Fingerprint,
		DataFingerprint: d.table.Fingerprint,
		Stale:           d.outcome.Stale,
		Columns:         d.outcome.Columns,
	}
	if ev := d.outcome.Evaluation; ev != nil {
		info.TrainR2 = &ev.R2
		info.TrainMAE = &ev.MAE
	}
	if sized, ok := d.model.(interface{ Size() (int, int) }); ok {
		info.Trees, info.Leaves = sized.Size()
	}
	return info
}

// Deps wires the bootstrapped state into the HTTP router.
func (d *Dashboard) Deps(trendWindow int) router.Deps {
	deps := router.Deps{
		Predictor:   d.service,
		Table:       d.table,
		Model:       d.ModelInfo(),
		TrendWindow: trendWindow,
		Ready:       d.Ready,
	}
	if d.metrics != nil {
		deps.Errors = d.metrics
	}
	return deps
}
