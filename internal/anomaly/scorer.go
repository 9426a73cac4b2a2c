package anomaly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

// ErrNoModel means no usable model is stored. Callers fall back to
// threshold-only alerting.
var ErrNoModel = errors.New("no anomaly model available")

// Verdict is the scorer's classification of a feature vector.
type Verdict int

const (
	Normal Verdict = iota
	Anomaly
)

func (v Verdict) String() string {
	if v == Anomaly {
		return "ANOMALY"
	}
	return "NORMAL"
}

// MarshalText renders the verdict by name
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ModelSource is the repository surface used by the scorer.
type ModelSource interface {
	LatestModel(ctx context.Context) (*types.AnomalyModel, error)
}

type loadedModel struct {
	record *types.AnomalyModel
	forest *Forest
}

// Scorer classifies feature vectors with the most recently stored model.
// Decoded models are swapped atomically, so a scorer running while the model
// is replaced sees either the old or the new one in full.
type Scorer struct {
	source  ModelSource
	logger  *zap.SugaredLogger
	current atomic.Pointer[loadedModel]
}

// NewScorer creates a scorer
func NewScorer(source ModelSource, logger *zap.SugaredLogger) *Scorer {
	return &Scorer{source: source, logger: logger}
}

// Load returns the latest model, decoding it only when the stored artifact has
// changed. A missing or undecodable model yields ErrNoModel; storage failures
// are returned as they are.
func (s *Scorer) Load(ctx context.Context) (*Forest, *types.AnomalyModel, error) {
	rec, err := s.source.LatestModel(ctx)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		s.current.Store(nil)
		return nil, nil, ErrNoModel
	}

	if cur := s.current.Load(); cur != nil && cur.record.TrainedAt.Equal(rec.TrainedAt) && bytes.Equal(cur.record.Data, rec.Data) {
		return cur.forest, cur.record, nil
	}

	forest, err := DecodeForest(rec.Data, types.ModelFeatureNames)
	if err != nil {
		s.logger.Warnf("stored anomaly model is unusable, falling back to threshold alerting: %v", err)
		s.current.Store(nil)
		return nil, nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}

	s.current.Store(&loadedModel{record: rec, forest: forest})
	s.logger.Debugf("loaded anomaly model trained at %s on %d samples", rec.TrainedAt.Format(time.RFC3339), rec.SampleCount)

	return forest, rec, nil
}

// Score classifies fv. Only the (delta_z, dist_3d, delta_tilt) dimensions are
// used, in the order the model was trained on.
func (s *Scorer) Score(ctx context.Context, fv types.FeatureVector) (Verdict, error) {
	forest, _, err := s.Load(ctx)
	if err != nil {
		return Normal, err
	}

	if forest.IsAnomaly(fv.ModelInput()) {
		return Anomaly, nil
	}
	return Normal, nil
}

// ModelStatus summarizes the active model for operators.
type ModelStatus struct {
	Available   bool             `json:"available"`
	TrainedAt   *time.Time       `json:"trained_at,omitempty"`
	SampleCount int              `json:"sample_count,omitempty"`
	Threshold   float64          `json:"threshold,omitempty"`
	Features    []FeatureSummary `json:"features,omitempty"`
}

// Status describes the current model. An absent model is reported as
// unavailable rather than as an error.
func (s *Scorer) Status(ctx context.Context) (ModelStatus, error) {
	forest, rec, err := s.Load(ctx)
	if errors.Is(err, ErrNoModel) {
		return ModelStatus{}, nil
	}
	if err != nil {
		return ModelStatus{}, err
	}

	trainedAt := rec.TrainedAt
	return ModelStatus{
		Available:   true,
		TrainedAt:   &trainedAt,
		SampleCount: rec.SampleCount,
		Threshold:   forest.Threshold(),
		Features:    forest.Summary(),
	}, nil
}
