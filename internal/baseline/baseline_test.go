package baseline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/types"
)

type fakeSource struct {
	readings []types.Reading
	err      error
}

func (f *fakeSource) QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Reading
	for _, r := range f.readings {
		if deviceID == "" || r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestEstablish(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		device   string
		readings []types.Reading
		wantZ    float64
		wantErr  bool
	}{
		{
			name:   "earliest by timestamp, not arrival order",
			device: "SB-001",
			readings: []types.Reading{
				{ID: 1, DeviceID: "SB-001", Timestamp: t0.Add(time.Minute), Z: 10.2},
				{ID: 2, DeviceID: "SB-001", Timestamp: t0, Z: 10.0},
				{ID: 3, DeviceID: "SB-001", Timestamp: t0.Add(2 * time.Minute), Z: 10.4},
			},
			wantZ: 10.0,
		},
		{
			name:   "other devices ignored",
			device: "SB-002",
			readings: []types.Reading{
				{ID: 1, DeviceID: "SB-001", Timestamp: t0.Add(-time.Hour), Z: 1},
				{ID: 2, DeviceID: "SB-002", Timestamp: t0, Z: 2},
			},
			wantZ: 2,
		},
		{
			name:   "timestamp tie resolves to lower id",
			device: "SB-001",
			readings: []types.Reading{
				{ID: 9, DeviceID: "SB-001", Timestamp: t0, Z: 5},
				{ID: 4, DeviceID: "SB-001", Timestamp: t0, Z: 4},
			},
			wantZ: 4,
		},
		{
			name:     "no readings",
			device:   "SB-404",
			readings: []types.Reading{{ID: 1, DeviceID: "SB-001", Timestamp: t0}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Establish(tt.device, tt.readings)
			if tt.wantErr {
				if !errors.Is(err, ErrNoReadings) {
					t.Fatalf("expected ErrNoReadings, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.RefZ != tt.wantZ {
				t.Errorf("RefZ = %v, want %v", b.RefZ, tt.wantZ)
			}
			if b.DeviceID != tt.device {
				t.Errorf("DeviceID = %q, want %q", b.DeviceID, tt.device)
			}
		})
	}
}

func TestFromReadingTiltMagnitude(t *testing.T) {
	b := FromReading(types.Reading{DeviceID: "SB-001", TiltX: 3, TiltY: 4})
	if math.Abs(b.RefTiltMagnitude-5) > 1e-12 {
		t.Errorf("RefTiltMagnitude = %v, want 5", b.RefTiltMagnitude)
	}
}

func TestTrackerStableUntilReset(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{readings: []types.Reading{
		{ID: 1, DeviceID: "SB-001", Timestamp: t0, Z: 10.0},
	}}
	tr := NewTracker(src)

	first, _, err := tr.GetOrEstablish(context.Background(), "SB-001")
	if err != nil {
		t.Fatalf("GetOrEstablish: %v", err)
	}

	src.readings = append(src.readings, types.Reading{ID: 2, DeviceID: "SB-001", Timestamp: t0.Add(time.Hour), Z: 11})
	second, readings, err := tr.GetOrEstablish(context.Background(), "SB-001")
	if err != nil {
		t.Fatalf("GetOrEstablish: %v", err)
	}
	if second != first {
		t.Errorf("baseline changed without reset: %+v != %+v", second, first)
	}
	if len(readings) != 2 {
		t.Errorf("got %d readings, want 2", len(readings))
	}

	// reset, then a fresh reading
	src.readings = []types.Reading{{ID: 3, DeviceID: "SB-001", Timestamp: t0.Add(2 * time.Hour), Z: 12}}
	third, _, err := tr.GetOrEstablish(context.Background(), "SB-001")
	if err != nil {
		t.Fatalf("GetOrEstablish: %v", err)
	}
	if third.RefZ != 12 {
		t.Errorf("RefZ after reset = %v, want 12", third.RefZ)
	}
}

func TestTrackerPropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTracker(&fakeSource{err: boom})
	if _, _, err := tr.GetOrEstablish(context.Background(), "SB-001"); !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestGroupSortsPerDevice(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	groups := Group([]types.Reading{
		{ID: 1, DeviceID: "A", Timestamp: t0.Add(time.Minute)},
		{ID: 2, DeviceID: "B", Timestamp: t0},
		{ID: 3, DeviceID: "A", Timestamp: t0},
	})
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups["A"][0].ID != 3 || groups["A"][1].ID != 1 {
		t.Errorf("device A not sorted: %+v", groups["A"])
	}
}
