package anomaly

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/sinkbot-iot/sinkbot/internal/types"
)

func cluster(n int, seed int64) [][Dimensions]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][Dimensions]float64, n)
	for i := range out {
		out[i] = [Dimensions]float64{
			0.002 + 0.0005*rng.NormFloat64(),
			0.003 + 0.0005*rng.NormFloat64(),
			0.01 * rng.NormFloat64(),
		}
	}
	return out
}

func centroid(samples [][Dimensions]float64) [Dimensions]float64 {
	var c [Dimensions]float64
	for _, s := range samples {
		for d := range c {
			c[d] += s[d]
		}
	}
	for d := range c {
		c[d] /= float64(len(samples))
	}
	return c
}

func TestFitClassifiesCentroidAndOutlier(t *testing.T) {
	samples := cluster(200, 7)
	f, err := Fit(samples, types.ModelFeatureNames, DefaultForestParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if f.IsAnomaly(centroid(samples)) {
		t.Errorf("centroid flagged as anomaly (score %.3f, threshold %.3f)", f.Score(centroid(samples)), f.Threshold())
	}

	outlier := [Dimensions]float64{0.5, 0.8, 2.0}
	if !f.IsAnomaly(outlier) {
		t.Errorf("outlier not flagged (score %.3f, threshold %.3f)", f.Score(outlier), f.Threshold())
	}
	if f.Score(outlier) <= f.Score(centroid(samples)) {
		t.Error("outlier should score higher than the centroid")
	}
}

func TestFitIsDeterministic(t *testing.T) {
	samples := cluster(60, 3)

	a, err := Fit(samples, types.ModelFeatureNames, DefaultForestParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	b, err := Fit(samples, types.ModelFeatureNames, DefaultForestParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	ab, _ := a.Encode()
	bb, _ := b.Encode()
	if !bytes.Equal(ab, bb) {
		t.Error("identical input and seed produced different models")
	}
}

func TestFitParamValidation(t *testing.T) {
	samples := cluster(30, 1)

	tests := []struct {
		name   string
		mutate func(*ForestParams)
	}{
		{"zero trees", func(p *ForestParams) { p.NumTrees = 0 }},
		{"contamination zero", func(p *ForestParams) { p.Contamination = 0 }},
		{"contamination too large", func(p *ForestParams) { p.Contamination = 0.6 }},
		{"tiny subsample", func(p *ForestParams) { p.MaxSamples = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultForestParams()
			tt.mutate(&p)
			if _, err := Fit(samples, types.ModelFeatureNames, p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFitIdenticalPoints(t *testing.T) {
	samples := make([][Dimensions]float64, 25)
	f, err := Fit(samples, types.ModelFeatureNames, DefaultForestParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if f.IsAnomaly([Dimensions]float64{}) {
		t.Error("a training point should not be anomalous when all points coincide")
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 || averagePathLength(2) != 1 {
		t.Error("unexpected c(n) for n <= 2")
	}
	if c := averagePathLength(256); c < 10 || c > 11 {
		t.Errorf("c(256) = %v, want about 10.24", c)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	samples := cluster(80, 11)
	f, err := Fit(samples, types.ModelFeatureNames, DefaultForestParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	g, err := DecodeForest(data, types.ModelFeatureNames)
	if err != nil {
		t.Fatalf("DecodeForest: %v", err)
	}

	points := append(samples[:10:10], [Dimensions]float64{1, 1, 1}, centroid(samples))
	for _, p := range points {
		if f.Score(p) != g.Score(p) || f.IsAnomaly(p) != g.IsAnomaly(p) {
			t.Fatalf("decoded model disagrees at %v", p)
		}
	}
	if g.Threshold() != f.Threshold() {
		t.Errorf("threshold changed across round trip")
	}
}

func TestDecodeRejectsBadArtifacts(t *testing.T) {
	f, err := Fit(cluster(40, 5), types.ModelFeatureNames, DefaultForestParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	good, _ := f.Encode()

	tests := []struct {
		name     string
		data     []byte
		features []string
	}{
		{"empty", nil, types.ModelFeatureNames},
		{"garbage", []byte("not a model"), types.ModelFeatureNames},
		{"truncated", good[:len(good)/2], types.ModelFeatureNames},
		{"reordered features", good, []string{"dist_3d", "delta_z", "delta_tilt"}},
		{"extra feature", good, []string{"delta_z", "dist_3d", "delta_tilt", "tilt_magnitude"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeForest(tt.data, tt.features)
			if !errors.Is(err, ErrModelDeserialization) {
				t.Errorf("expected ErrModelDeserialization, got %v", err)
			}
		})
	}
}
