// Package monitor ties ingestion, baselines, thresholds and the anomaly model
// together into the per-device view served to operators.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/anomaly"
	"github.com/sinkbot-iot/sinkbot/internal/baseline"
	"github.com/sinkbot-iot/sinkbot/internal/features"
	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

// ErrUnknownDevice is returned for a device with no stored readings
var ErrUnknownDevice = errors.New("unknown device")

// AnomalyStatus is the model's opinion of the latest reading
type AnomalyStatus string

const (
	AnomalyNormal           AnomalyStatus = "normal"
	AnomalyDetected         AnomalyStatus = "anomaly"
	AnomalyInsufficientData AnomalyStatus = "insufficient_data"
)

// Assessment is the current state of one device
type Assessment struct {
	DeviceID   string              `json:"device_id"`
	Baseline   types.Baseline      `json:"baseline"`
	Latest     types.Reading       `json:"latest"`
	Features   types.FeatureVector `json:"features"`
	Profile    thresholds.Profile  `json:"thresholds"`
	Tier       types.Tier          `json:"tier"`
	LowBattery bool                `json:"low_battery"`
	Anomaly    AnomalyStatus       `json:"anomaly"`
	Alerts     []types.AlertEvent  `json:"alerts"`
	Readings   int                 `json:"readings"`
}

// ModelProgress reports the model alongside how close the corpus is to the
// training floor
type ModelProgress struct {
	anomaly.ModelStatus
	Samples    int    `json:"samples"`
	MinSamples int    `json:"min_samples"`
	Progress   string `json:"progress"`
}

// Monitor serves ingestion and assessment over a single repository
type Monitor struct {
	repo         repository.Repository
	tracker      *baseline.Tracker
	registry     *thresholds.Registry
	scorer       *anomaly.Scorer
	trainer      *anomaly.Trainer
	batteryLimit float64
	logger       *zap.SugaredLogger
	now          func() time.Time
}

// New creates a monitor. batteryLimit is the low-battery threshold in percent.
func New(repo repository.Repository, registry *thresholds.Registry, scorer *anomaly.Scorer, trainer *anomaly.Trainer, batteryLimit float64, logger *zap.SugaredLogger) *Monitor {
	return &Monitor{
		repo:         repo,
		tracker:      baseline.NewTracker(repo),
		registry:     registry,
		scorer:       scorer,
		trainer:      trainer,
		batteryLimit: batteryLimit,
		logger:       logger,
		now:          time.Now,
	}
}

// Registry exposes the threshold registry
func (m *Monitor) Registry() *thresholds.Registry {
	return m.registry
}

// Ingest validates and stores a reading. A zero timestamp is replaced with
// the current time.
func (m *Monitor) Ingest(ctx context.Context, r *types.Reading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now().UTC()
	}
	if err := r.Validate(); err != nil {
		return err
	}

	if err := m.repo.AppendReading(ctx, r); err != nil {
		return err
	}

	m.logger.Debugf("stored reading %d from %s", r.ID, r.DeviceID)
	return nil
}

// Devices lists the devices with stored readings
func (m *Monitor) Devices(ctx context.Context) ([]string, error) {
	return m.repo.Devices(ctx)
}

// Assess evaluates the latest reading of deviceID against its baseline, its
// threshold profile and the anomaly model. A missing or unusable model is
// reported as insufficient data, not as an error.
func (m *Monitor) Assess(ctx context.Context, deviceID string) (*Assessment, error) {
	b, readings, err := m.tracker.GetOrEstablish(ctx, deviceID)
	if errors.Is(err, baseline.ErrNoReadings) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if err != nil {
		return nil, err
	}

	latest := readings[len(readings)-1]

	fv, err := features.Extract(latest, b)
	if err != nil {
		return nil, err
	}

	profile, err := m.registry.Profile(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	tier, err := thresholds.Evaluate(fv.DeltaZ, profile)
	if err != nil {
		return nil, err
	}
	alerts, err := thresholds.Alerts(fv, latest.Battery, profile, m.batteryLimit)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		DeviceID:   deviceID,
		Baseline:   b,
		Latest:     latest,
		Features:   fv,
		Profile:    profile,
		Tier:       tier,
		LowBattery: thresholds.LowBattery(latest.Battery, m.batteryLimit),
		Anomaly:    AnomalyInsufficientData,
		Readings:   len(readings),
	}

	verdict, err := m.scorer.Score(ctx, fv)
	switch {
	case errors.Is(err, anomaly.ErrNoModel):
	case err != nil:
		return nil, err
	case verdict == anomaly.Anomaly:
		a.Anomaly = AnomalyDetected
		alerts = append(alerts, types.AlertEvent{
			DeviceID:  deviceID,
			Timestamp: fv.Timestamp,
			Kind:      types.AlertAnomaly,
			Tier:      tier,
			DeltaZ:    fv.DeltaZ,
			Message:   fmt.Sprintf("%s: abnormal displacement pattern detected", deviceID),
		})
	default:
		a.Anomaly = AnomalyNormal
	}

	if alerts == nil {
		alerts = []types.AlertEvent{}
	}
	a.Alerts = alerts
	return a, nil
}

// Series recomputes the feature history of deviceID against its current
// baseline, oldest first
func (m *Monitor) Series(ctx context.Context, deviceID string) ([]types.FeatureVector, error) {
	b, readings, err := m.tracker.GetOrEstablish(ctx, deviceID)
	if errors.Is(err, baseline.ErrNoReadings) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if err != nil {
		return nil, err
	}

	series, rejected := features.Series(readings, b)
	if rejected > 0 {
		m.logger.Warnf("skipped %d malformed readings from %s", rejected, deviceID)
	}
	return series, nil
}

// Model reports the model status and the training progress
func (m *Monitor) Model(ctx context.Context) (*ModelProgress, error) {
	status, err := m.scorer.Status(ctx)
	if err != nil {
		return nil, err
	}

	samples, err := m.repo.CountReadings(ctx)
	if err != nil {
		return nil, err
	}

	return &ModelProgress{
		ModelStatus: status,
		Samples:     samples,
		MinSamples:  m.trainer.MinSamples(),
		Progress:    fmt.Sprintf("%d/%d", samples, m.trainer.MinSamples()),
	}, nil
}

// Reset deletes the readings of deviceID (every device when empty) and the
// stored model. Threshold profiles are kept. The next reading of an affected
// device becomes its new baseline. A training run in progress finishes first.
func (m *Monitor) Reset(ctx context.Context, deviceID string) error {
	err := m.trainer.Exclusive(func() error {
		return m.repo.Clear(ctx, deviceID)
	})
	if err != nil {
		return err
	}

	scope := deviceID
	if scope == "" {
		scope = "all devices"
	}
	m.logger.Warnf("reset stored readings and anomaly model for %s", scope)
	return nil
}
