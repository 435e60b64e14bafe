// Package modelcache implements the train-once, reuse-afterwards contract
// for the traffic model.
//
// On startup LoadOrTrain looks for an artifact in the configured store. If
// one exists it is restored without retraining; otherwise the model is fitted
// on the full feature frame and the artifact is written. The artifact records
// the model name, feature columns and a fingerprint of the training data:
//
//   - a different model name or feature schema is a hard error, because the
//     restored model would silently mis-read feature rows
//   - a different data fingerprint only marks the outcome stale; the cached
//     model keeps serving until the artifact is deleted
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/HatiCode/junctioncast/pkg/models"
	"github.com/HatiCode/junctioncast/pkg/storage"
)

var (
	// ErrSchemaMismatch is returned when the cached model was trained on different feature columns.
	ErrSchemaMismatch = errors.New("cached model feature schema does not match")
	// ErrModelMismatch is returned when the cached artifact holds a different model type.
	ErrModelMismatch = errors.New("cached model type does not match")
	// ErrCorruptArtifact is returned when the artifact cannot be decoded.
	ErrCorruptArtifact = errors.New("cached model artifact is corrupt")
	// ErrUnsupportedVersion is returned for artifacts written by an incompatible format.
	ErrUnsupportedVersion = errors.New("cached model artifact version is not supported")
)

// Source tells where the serving model came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceTrained Source = "trained"
)

// Outcome describes the model that LoadOrTrain produced.
type Outcome struct {
	Source      Source
	Model       string
	Columns     []string
	Fingerprint string
	TrainedAt   time.Time
	// Stale is true when the artifact was trained on data with a different fingerprint.
	Stale bool
	// Evaluation is only set when the model was trained in this run.
	Evaluation *models.Evaluation
	// TrainDuration is the time spent in model.Train alone; zero on restore.
	TrainDuration time.Duration
	// Duration covers restoring or training plus writing the artifact.
	Duration time.Duration
}

// Manager restores or trains models against one artifact store.
type Manager struct {
	store  storage.ArtifactStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Manager.
func New(store storage.ArtifactStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

// LoadOrTrain fills model either from the cached artifact or by training on
// frame. fingerprint identifies the data frame was built from.
func (m *Manager) LoadOrTrain(ctx context.Context, model models.Model, frame models.FeatureFrame, fingerprint string) (Outcome, error) {
	start := time.Now()

	data, found, err := m.store.Get(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read cached model: %w", err)
	}

	if found {
		out, err := m.restore(model, data, frame.Columns, fingerprint)
		if err != nil {
			return Outcome{}, err
		}
		out.Duration = time.Since(start)
		m.logger.Info("restored cached model",
			"store", m.store.Name(),
			"model", out.Model,
			"trained_at", out.TrainedAt,
			"stale", out.Stale,
			"duration_ms", out.Duration.Milliseconds(),
		)
		return out, nil
	}

	m.logger.Info("no cached model, training", "store", m.store.Name(), "model", model.Name(), "rows", len(frame.Rows))
	out, err := m.train(ctx, model, frame, fingerprint)
	if err != nil {
		return Outcome{}, err
	}
	out.Duration = time.Since(start)
	m.logger.Info("trained and cached model",
		"store", m.store.Name(),
		"model", out.Model,
		"r2", out.Evaluation.R2,
		"mae", out.Evaluation.MAE,
		"train_ms", out.TrainDuration.Milliseconds(),
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

func (m *Manager) restore(model models.Model, data []byte, columns []string, fingerprint string) (Outcome, error) {
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if env.Version != FormatVersion {
		return Outcome{}, fmt.Errorf("%w: version %d, want %d", ErrUnsupportedVersion, env.Version, FormatVersion)
	}
	if env.Model != model.Name() {
		return Outcome{}, fmt.Errorf("%w: artifact holds %q, configured %q", ErrModelMismatch, env.Model, model.Name())
	}
	if !slices.Equal(env.Columns, columns) {
		return Outcome{}, fmt.Errorf("%w: artifact %v, current %v", ErrSchemaMismatch, env.Columns, columns)
	}
	if err := model.UnmarshalBinary(env.Payload); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}

	stale := env.Fingerprint != fingerprint
	if stale {
		m.logger.Warn("cached model was trained on different data; delete the artifact to retrain",
			"store", m.store.Name(),
			"artifact_fingerprint", env.Fingerprint,
			"data_fingerprint", fingerprint,
		)
	}

	return Outcome{
		Source:      SourceCache,
		Model:       env.Model,
		Columns:     env.Columns,
		Fingerprint: env.Fingerprint,
		TrainedAt:   env.TrainedAt,
		Stale:       stale,
	}, nil
}

func (m *Manager) train(ctx context.Context, model models.Model, frame models.FeatureFrame, fingerprint string) (Outcome, error) {
	trainStart := m.now()
	if err := model.Train(ctx, frame); err != nil {
		return Outcome{}, fmt.Errorf("train %s: %w", model.Name(), err)
	}
	trainDuration := m.now().Sub(trainStart)

	eval, err := models.Evaluate(ctx, model, frame)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate %s: %w", model.Name(), err)
	}

	payload, err := model.MarshalBinary()
	if err != nil {
		return Outcome{}, fmt.Errorf("encode %s: %w", model.Name(), err)
	}

	env := Envelope{
		Version:     FormatVersion,
		Model:       model.Name(),
		Columns:     slices.Clone(frame.Columns),
		Fingerprint: fingerprint,
		TrainedAt:   m.now().UTC(),
		Payload:     payload,
	}
	if err := m.store.Put(ctx, env.Marshal()); err != nil {
		return Outcome{}, fmt.Errorf("write cached model: %w", err)
	}

	return Outcome{
		Source:        SourceTrained,
		Model:         env.Model,
		Columns:       env.Columns,
		Fingerprint:   fingerprint,
		TrainedAt:     env.TrainedAt,
		Evaluation:    &eval,
		TrainDuration: trainDuration,
	}, nil
}
