package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/repository/memory"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

func vectors(n int, seed int64) []types.FeatureVector {
	out := make([]types.FeatureVector, n)
	for i, s := range cluster(n, seed) {
		out[i] = types.FeatureVector{DeviceID: "SB-001", DeltaZ: s[0], Dist3D: s[1], DeltaTilt: s[2]}
	}
	return out
}

func newTrainer(t *testing.T, store TrainingStore) *Trainer {
	t.Helper()
	tr, err := NewTrainer(store, DefaultTrainerConfig(), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	tr.now = func() time.Time { return time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC) }
	return tr
}

func TestTrainInsufficientDataWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	prior := &types.AnomalyModel{Name: types.PrimaryModelName, Data: []byte("prior"), SampleCount: 99}
	if err := repo.PutModel(ctx, prior); err != nil {
		t.Fatalf("PutModel: %v", err)
	}

	tr := newTrainer(t, repo)
	for _, n := range []int{0, 1, 19} {
		t.Run(fmt.Sprintf("%d vectors", n), func(t *testing.T) {
			_, err := tr.Train(ctx, vectors(n, 1))
			if !IsInsufficientData(err) {
				t.Fatalf("expected insufficient data, got %v", err)
			}
			m, _ := repo.LatestModel(ctx)
			if m == nil || string(m.Data) != "prior" {
				t.Error("model slot changed on a skipped run")
			}
		})
	}
}

func TestTrainWritesModelThatScoresCentroidNormal(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	tr := newTrainer(t, repo)

	vs := vectors(DefaultMinSamples, 2)
	m, err := tr.Train(ctx, vs)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if m.Name != types.PrimaryModelName || m.SampleCount != len(vs) {
		t.Errorf("unexpected model record %+v", m)
	}

	stored, _ := repo.LatestModel(ctx)
	if stored == nil || !stored.TrainedAt.Equal(m.TrainedAt) {
		t.Fatal("model was not stored")
	}

	var c types.FeatureVector
	for _, v := range vs {
		c.DeltaZ += v.DeltaZ / float64(len(vs))
		c.Dist3D += v.Dist3D / float64(len(vs))
		c.DeltaTilt += v.DeltaTilt / float64(len(vs))
	}

	sc := NewScorer(repo, zap.NewNop().Sugar())
	verdict, err := sc.Score(ctx, c)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if verdict != Normal {
		t.Errorf("centroid classified %v", verdict)
	}
}

func TestRunPoolsDevicesAgainstOwnBaselines(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(9))

	for _, dev := range []string{"SB-001", "SB-002"} {
		base := 10.0
		if dev == "SB-002" {
			base = 250.0
		}
		for i := 0; i < 15; i++ {
			r := types.Reading{
				DeviceID:  dev,
				Timestamp: t0.Add(time.Duration(i) * time.Minute),
				X:         127 + 0.0001*rng.NormFloat64(),
				Y:         37 + 0.0001*rng.NormFloat64(),
				Z:         base + 0.001*rng.NormFloat64(),
				TiltX:     0.1 * rng.NormFloat64(),
				TiltY:     0.1 * rng.NormFloat64(),
				Battery:   100,
			}
			if err := repo.AppendReading(ctx, &r); err != nil {
				t.Fatalf("AppendReading: %v", err)
			}
		}
	}

	tr := newTrainer(t, repo)
	pooled := tr.PooledFeatures(mustQuery(t, repo))
	for _, fv := range pooled {
		if fv.DeltaZ > 1 {
			t.Fatalf("%s delta_z %v measured against the wrong baseline", fv.DeviceID, fv.DeltaZ)
		}
	}

	m, err := tr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.SampleCount != 30 {
		t.Errorf("SampleCount = %d, want 30", m.SampleCount)
	}

	readings := mustQuery(t, repo)
	if len(readings) != 30 {
		t.Errorf("training changed the readings: %d left", len(readings))
	}
}

func TestRunIsReproducible(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		r := types.Reading{DeviceID: fmt.Sprintf("SB-%03d", i%4), Timestamp: t0.Add(time.Duration(i) * time.Second), Z: 10 + float64(i%7)*0.001}
		if err := repo.AppendReading(ctx, &r); err != nil {
			t.Fatalf("AppendReading: %v", err)
		}
	}

	tr := newTrainer(t, repo)
	a, err := tr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := tr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(a.Data) != string(b.Data) {
		t.Error("identical corpora produced different artifacts")
	}
}

func TestNewTrainerValidatesConfig(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.MinSamples = 1
	if _, err := NewTrainer(memory.New(), cfg, zap.NewNop().Sugar()); err == nil {
		t.Error("expected error for min_samples 1")
	}
}

type failingStore struct{}

var errDown = errors.New("database unreachable")

func (failingStore) QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error) {
	return nil, errDown
}

func (failingStore) PutModel(ctx context.Context, m *types.AnomalyModel) error {
	return errDown
}

func TestRunPropagatesStorageErrors(t *testing.T) {
	tr := newTrainer(t, failingStore{})
	if _, err := tr.Run(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("expected storage error, got %v", err)
	}
	if _, err := tr.Train(context.Background(), vectors(30, 1)); !errors.Is(err, errDown) {
		t.Errorf("expected storage error from PutModel, got %v", err)
	}
}

func mustQuery(t *testing.T, repo *memory.Store) []types.Reading {
	t.Helper()
	rs, err := repo.QueryReadings(context.Background(), "")
	if err != nil {
		t.Fatalf("QueryReadings: %v", err)
	}
	return rs
}
