// Package baseline derives each device's reference reading.
//
// A baseline is never cached as mutable state: it is recomputed as the
// chronologically earliest stored reading every time it is requested. Two
// concurrent first readings for a new device therefore cannot race to set it,
// and readings that arrive out of timestamp order still yield the right one.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sinkbot-iot/sinkbot/internal/types"
)

// ErrNoReadings is returned when a device has no stored readings to derive a
// baseline from.
var ErrNoReadings = errors.New("no readings for device")

// ReadingSource is the part of the repository the tracker needs.
type ReadingSource interface {
	QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error)
}

// Tracker hands out baselines backed by a reading source.
type Tracker struct {
	source ReadingSource
}

// NewTracker creates a tracker over the given source
func NewTracker(source ReadingSource) *Tracker {
	return &Tracker{source: source}
}

// GetOrEstablish returns the device's baseline, deriving it from the earliest
// stored reading. After a reset the next reading becomes the new baseline.
func (t *Tracker) GetOrEstablish(ctx context.Context, deviceID string) (types.Baseline, []types.Reading, error) {
	readings, err := t.source.QueryReadings(ctx, deviceID)
	if err != nil {
		return types.Baseline{}, nil, err
	}

	b, err := Establish(deviceID, readings)
	if err != nil {
		return types.Baseline{}, nil, err
	}

	return b, readings, nil
}

// Establish picks the earliest reading of deviceID by timestamp. Readings of
// other devices are ignored. Equal timestamps resolve to the lower ID, then to
// slice order.
func Establish(deviceID string, readings []types.Reading) (types.Baseline, error) {
	var first *types.Reading
	for i := range readings {
		r := &readings[i]
		if r.DeviceID != deviceID {
			continue
		}
		if first == nil || earlier(r, first) {
			first = r
		}
	}

	if first == nil {
		return types.Baseline{}, fmt.Errorf("%w %s", ErrNoReadings, deviceID)
	}

	return FromReading(*first), nil
}

// FromReading captures r as a baseline
func FromReading(r types.Reading) types.Baseline {
	return types.Baseline{
		DeviceID:         r.DeviceID,
		RefX:             r.X,
		RefY:             r.Y,
		RefZ:             r.Z,
		RefTiltMagnitude: r.TiltMagnitude(),
		EstablishedAt:    r.Timestamp,
	}
}

// Group splits a pooled corpus into per-device slices sorted chronologically.
// The input slice is not modified.
func Group(readings []types.Reading) map[string][]types.Reading {
	groups := make(map[string][]types.Reading)
	for _, r := range readings {
		groups[r.DeviceID] = append(groups[r.DeviceID], r)
	}

	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			return earlier(&g[i], &g[j])
		})
	}

	return groups
}

func earlier(a, b *types.Reading) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	// IDs of zero have not been assigned by storage yet
	if a.ID != 0 && b.ID != 0 {
		return a.ID < b.ID
	}
	return false
}
