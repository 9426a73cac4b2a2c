package anomaly

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

const artifactVersion = 1

// ErrModelDeserialization marks a stored model that is corrupt or was written
// for a different feature layout.
var ErrModelDeserialization = errors.New("anomaly model could not be decoded")

type artifact struct {
	Version    int              `msgpack:"version"`
	Features   []string         `msgpack:"features"`
	Params     ForestParams     `msgpack:"params"`
	SampleSize int              `msgpack:"sample_size"`
	Threshold  float64          `msgpack:"threshold"`
	Summary    []FeatureSummary `msgpack:"summary"`
	Trees      []tree           `msgpack:"trees"`
}

// Encode serializes the forest into an opaque binary artifact
func (f *Forest) Encode() ([]byte, error) {
	names := make([]string, len(f.summary))
	for i, s := range f.summary {
		names[i] = s.Name
	}

	a := artifact{
		Version:    artifactVersion,
		Features:   names,
		Params:     f.params,
		SampleSize: f.sampleSize,
		Threshold:  f.threshold,
		Summary:    f.summary,
		Trees:      f.trees,
	}

	b, err := msgpack.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("could not encode anomaly model: %w", err)
	}
	return b, nil
}

// DecodeForest restores a forest written by Encode. The artifact must have been
// trained on exactly the given feature names, in the same order.
func DecodeForest(data []byte, features []string) (*Forest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrModelDeserialization)
	}

	var a artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelDeserialization, err)
	}

	if err := a.check(features); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelDeserialization, err)
	}

	return &Forest{
		params:     a.Params,
		sampleSize: a.SampleSize,
		threshold:  a.Threshold,
		summary:    a.Summary,
		trees:      a.Trees,
	}, nil
}

func (a *artifact) check(features []string) error {
	if a.Version != artifactVersion {
		return fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if !slices.Equal(a.Features, features) {
		return fmt.Errorf("model features %v do not match %v", a.Features, features)
	}
	if len(a.Summary) != Dimensions {
		return fmt.Errorf("expected %d feature summaries, got %d", Dimensions, len(a.Summary))
	}
	if a.SampleSize < 1 {
		return fmt.Errorf("invalid sample size %d", a.SampleSize)
	}
	if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) {
		return errors.New("threshold is not finite")
	}
	if len(a.Trees) == 0 {
		return errors.New("model has no trees")
	}

	for ti, t := range a.Trees {
		if len(t) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t {
			if n.external() {
				if n.Right >= 0 {
					return fmt.Errorf("tree %d node %d has one child", ti, ni)
				}
				continue
			}
			// children strictly after the parent rules out cycles
			if n.Left <= int32(ni) || n.Right <= int32(ni) || int(n.Left) >= len(t) || int(n.Right) >= len(t) {
				return fmt.Errorf("tree %d node %d has out-of-range children", ti, ni)
			}
			if n.Feature < 0 || int(n.Feature) >= Dimensions {
				return fmt.Errorf("tree %d node %d splits on unknown feature %d", ti, ni, n.Feature)
			}
		}
	}

	return nil
}
