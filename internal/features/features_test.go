package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/baseline"
	"github.com/sinkbot-iot/sinkbot/internal/types"
)

const epsilon = 1e-9

func TestExtract(t *testing.T) {
	ref := types.Reading{DeviceID: "SB-001", X: 127.0, Y: 37.5, Z: 10.0, TiltX: 0.3, TiltY: 0.4}
	b := baseline.FromReading(ref)

	tests := []struct {
		name          string
		reading       types.Reading
		wantDeltaZ    float64
		wantDist3D    float64
		wantDeltaTilt float64
	}{
		{
			name:    "baseline reading itself",
			reading: ref,
		},
		{
			name:          "settlement",
			reading:       types.Reading{DeviceID: "SB-001", X: 127.0, Y: 37.5, Z: 10.050, TiltX: 0.3, TiltY: 0.4},
			wantDeltaZ:    0.050,
			wantDist3D:    0.050,
			wantDeltaTilt: 0,
		},
		{
			name:          "upward heave is absolute",
			reading:       types.Reading{DeviceID: "SB-001", X: 127.03, Y: 37.54, Z: 9.9, TiltX: 0, TiltY: 0},
			wantDeltaZ:    0.1,
			wantDist3D:    math.Sqrt(0.03*0.03 + 0.04*0.04 + 0.1*0.1),
			wantDeltaTilt: -0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv, err := Extract(tt.reading, b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(fv.DeltaZ-tt.wantDeltaZ) > epsilon {
				t.Errorf("DeltaZ = %v, want %v", fv.DeltaZ, tt.wantDeltaZ)
			}
			if math.Abs(fv.Dist3D-tt.wantDist3D) > epsilon {
				t.Errorf("Dist3D = %v, want %v", fv.Dist3D, tt.wantDist3D)
			}
			if math.Abs(fv.DeltaTilt-tt.wantDeltaTilt) > epsilon {
				t.Errorf("DeltaTilt = %v, want %v", fv.DeltaTilt, tt.wantDeltaTilt)
			}
			if fv.DeltaZ < 0 || fv.Dist3D < 0 {
				t.Errorf("negative magnitude in %+v", fv)
			}
		})
	}
}

func TestExtractRejectsInvalid(t *testing.T) {
	b := baseline.FromReading(types.Reading{DeviceID: "SB-001"})

	tests := []struct {
		name    string
		reading types.Reading
		field   string
	}{
		{"nan z", types.Reading{DeviceID: "SB-001", Z: math.NaN()}, "z"},
		{"inf tilt", types.Reading{DeviceID: "SB-001", TiltY: math.Inf(1)}, "tilt_y"},
		{"missing device", types.Reading{}, "device_id"},
		{"foreign device", types.Reading{DeviceID: "SB-002"}, "device_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.reading, b)
			var dve *types.DataValidationError
			if !errors.As(err, &dve) {
				t.Fatalf("expected DataValidationError, got %v", err)
			}
			if dve.Field != tt.field {
				t.Errorf("Field = %q, want %q", dve.Field, tt.field)
			}
		})
	}
}

func TestSeriesSkipsInvalidRows(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	readings := []types.Reading{
		{DeviceID: "SB-001", Timestamp: t0, Z: 10},
		{DeviceID: "SB-001", Timestamp: t0.Add(time.Minute), Z: math.NaN()},
		{DeviceID: "SB-001", Timestamp: t0.Add(2 * time.Minute), Z: 10.01},
	}
	b := baseline.FromReading(readings[0])

	series, rejected := Series(readings, b)
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	if series[0].DeltaZ != 0 || series[0].Dist3D != 0 {
		t.Errorf("first vector should be zero, got %+v", series[0])
	}
}
