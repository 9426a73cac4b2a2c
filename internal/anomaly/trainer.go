package anomaly

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/baseline"
	"github.com/sinkbot-iot/sinkbot/internal/features"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

// DefaultMinSamples is the smallest pooled corpus a model is trained on.
const DefaultMinSamples = 20

// ErrInsufficientData means training was skipped; nothing was written and the
// next scheduled run may succeed.
var ErrInsufficientData = errors.New("insufficient training data")

// IsInsufficientData reports whether err is a skipped training run
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// TrainerConfig is the batch training configuration.
type TrainerConfig struct {
	Contamination float64
	MinSamples    int
	RandomSeed    int64
	NumTrees      int
	MaxSamples    int
}

// DefaultTrainerConfig returns the stock training configuration
func DefaultTrainerConfig() TrainerConfig {
	p := DefaultForestParams()
	return TrainerConfig{
		Contamination: p.Contamination,
		MinSamples:    DefaultMinSamples,
		RandomSeed:    p.Seed,
		NumTrees:      p.NumTrees,
		MaxSamples:    p.MaxSamples,
	}
}

// Validate checks the configuration
func (c TrainerConfig) Validate() error {
	if c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2, got %d", c.MinSamples)
	}
	return c.forestParams().validate()
}

func (c TrainerConfig) forestParams() ForestParams {
	return ForestParams{
		NumTrees:      c.NumTrees,
		MaxSamples:    c.MaxSamples,
		Contamination: c.Contamination,
		Seed:          c.RandomSeed,
	}
}

// TrainingStore is the repository surface used by the trainer.
type TrainingStore interface {
	QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error)
	PutModel(ctx context.Context, m *types.AnomalyModel) error
}

// Trainer fits the pooled anomaly model and stores it in the single model
// slot. It only reads readings, never modifies them. A run holds mu from
// loading the corpus until the model is stored.
type Trainer struct {
	mu     sync.Mutex
	store  TrainingStore
	config TrainerConfig
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewTrainer creates a trainer
func NewTrainer(store TrainingStore, config TrainerConfig, logger *zap.SugaredLogger) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer configuration: %w", err)
	}
	return &Trainer{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// MinSamples is the configured training floor
func (t *Trainer) MinSamples() int {
	return t.config.MinSamples
}

// Run trains on the full historical corpus of every device
func (t *Trainer) Run(ctx context.Context) (*types.AnomalyModel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	readings, err := t.store.QueryReadings(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("could not load training corpus: %w", err)
	}

	vectors := t.PooledFeatures(readings)
	return t.train(ctx, vectors)
}

// Exclusive runs fn while no training run of this trainer is in progress,
// so a model is never stored from a corpus that fn has since deleted
func (t *Trainer) Exclusive(fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn()
}

// PooledFeatures extracts feature vectors for every device against its own
// baseline. Malformed readings are logged and skipped. Devices are visited in
// id order so identical corpora produce identical training input.
func (t *Trainer) PooledFeatures(readings []types.Reading) []types.FeatureVector {
	var pooled []types.FeatureVector

	groups := baseline.Group(readings)
	for _, deviceID := range slices.Sorted(maps.Keys(groups)) {
		history := groups[deviceID]
		b := baseline.FromReading(history[0])
		series, rejected := features.Series(history, b)
		if rejected > 0 {
			t.logger.Warnf("skipped %d malformed readings from %s", rejected, deviceID)
		}
		pooled = append(pooled, series...)
	}

	return pooled
}

// Fit fits a forest over the vectors without storing it
func (t *Trainer) Fit(vectors []types.FeatureVector) (*Forest, error) {
	if len(vectors) < t.config.MinSamples {
		return nil, fmt.Errorf("%w: have %d feature vectors, need %d", ErrInsufficientData, len(vectors), t.config.MinSamples)
	}

	samples := make([][Dimensions]float64, len(vectors))
	for i, fv := range vectors {
		samples[i] = fv.ModelInput()
	}

	return Fit(samples, types.ModelFeatureNames, t.config.forestParams())
}

// Train fits the model and upserts it into the model slot. Nothing is written
// when fitting fails.
func (t *Trainer) Train(ctx context.Context, vectors []types.FeatureVector) (*types.AnomalyModel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.train(ctx, vectors)
}

func (t *Trainer) train(ctx context.Context, vectors []types.FeatureVector) (*types.AnomalyModel, error) {
	forest, err := t.Fit(vectors)
	if err != nil {
		return nil, err
	}

	data, err := forest.Encode()
	if err != nil {
		return nil, err
	}

	m := &types.AnomalyModel{
		Name:        types.PrimaryModelName,
		Data:        data,
		TrainedAt:   t.now().UTC(),
		SampleCount: len(vectors),
	}

	if err := t.store.PutModel(ctx, m); err != nil {
		return nil, fmt.Errorf("could not store anomaly model: %w", err)
	}

	t.logger.Infof("trained anomaly model on %d feature vectors (%d trees, threshold %.4f)",
		len(vectors), forest.Params().NumTrees, forest.Threshold())

	return m, nil
}
