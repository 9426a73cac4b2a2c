// Package features turns raw readings into baseline-relative feature vectors.
package features

import (
	"math"

	"github.com/sinkbot-iot/sinkbot/internal/types"
)

// Extract computes the feature vector of r relative to b. It has no side
// effects and is safe to call on every dashboard refresh.
func Extract(r types.Reading, b types.Baseline) (types.FeatureVector, error) {
	if err := r.Validate(); err != nil {
		return types.FeatureVector{}, err
	}
	if r.DeviceID != b.DeviceID {
		return types.FeatureVector{}, &types.DataValidationError{
			DeviceID: r.DeviceID,
			Field:    "device_id",
			Reason:   "does not match baseline device " + b.DeviceID,
		}
	}

	dx := r.X - b.RefX
	dy := r.Y - b.RefY
	dz := r.Z - b.RefZ
	tilt := r.TiltMagnitude()

	return types.FeatureVector{
		DeviceID:      r.DeviceID,
		Timestamp:     r.Timestamp,
		DeltaZ:        math.Abs(dz),
		Dist3D:        math.Sqrt(dx*dx + dy*dy + dz*dz),
		DeltaTilt:     tilt - b.RefTiltMagnitude,
		TiltMagnitude: tilt,
	}, nil
}

// Series extracts every reading of a device history. Readings that fail
// validation are skipped and counted; they never abort the batch.
func Series(readings []types.Reading, b types.Baseline) ([]types.FeatureVector, int) {
	out := make([]types.FeatureVector, 0, len(readings))
	rejected := 0

	for _, r := range readings {
		fv, err := Extract(r, b)
		if err != nil {
			rejected++
			continue
		}
		out = append(out, fv)
	}

	return out, rejected
}
