// Package types holds the records shared by the displacement monitoring core.
package types

import (
	"fmt"
	"math"
	"time"
)

// DefaultBattery is assumed when a device does not report its charge.
const DefaultBattery = 100.0

// Reading is a single raw sample from a displacement/tilt sensor. Readings are
// append-only and never updated in place.
type Reading struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id,omitempty"`
	DeviceID  string    `gorm:"column:device_id;size:50;index" json:"device_id"`
	Timestamp time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	X         float64   `gorm:"column:x" json:"x"`
	Y         float64   `gorm:"column:y" json:"y"`
	Z         float64   `gorm:"column:z" json:"z"`
	TiltX     float64   `gorm:"column:tilt_x" json:"tilt_x"`
	TiltY     float64   `gorm:"column:tilt_y" json:"tilt_y"`
	Battery   float64   `gorm:"column:battery" json:"battery"`
}

// TableName maps Reading onto the displacement relation
func (Reading) TableName() string {
	return "displacement"
}

// TiltMagnitude is the length of the (tilt_x, tilt_y) vector
func (r Reading) TiltMagnitude() float64 {
	return math.Hypot(r.TiltX, r.TiltY)
}

// Validate checks that the reading carries a device and finite numerics
func (r Reading) Validate() error {
	if r.DeviceID == "" {
		return &DataValidationError{Field: "device_id", Reason: "missing"}
	}

	fields := []struct {
		name  string
		value float64
	}{
		{"x", r.X},
		{"y", r.Y},
		{"z", r.Z},
		{"tilt_x", r.TiltX},
		{"tilt_y", r.TiltY},
		{"battery", r.Battery},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &DataValidationError{DeviceID: r.DeviceID, Field: f.name, Reason: "not a finite number"}
		}
	}

	return nil
}

// DataValidationError rejects a single malformed reading.
type DataValidationError struct {
	DeviceID string
	Field    string
	Reason   string
}

func (e *DataValidationError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid reading from %s: %s %s", e.DeviceID, e.Field, e.Reason)
}

// Baseline is the reference reading against which a device's relative motion
// is measured.
type Baseline struct {
	DeviceID         string    `json:"device_id"`
	RefX             float64   `json:"ref_x"`
	RefY             float64   `json:"ref_y"`
	RefZ             float64   `json:"ref_z"`
	RefTiltMagnitude float64   `json:"ref_tilt_magnitude"`
	EstablishedAt    time.Time `json:"established_at"`
}

// FeatureVector is derived from a Reading and its device's Baseline. It is
// never persisted.
type FeatureVector struct {
	DeviceID      string    `json:"device_id"`
	Timestamp     time.Time `json:"timestamp"`
	DeltaZ        float64   `json:"delta_z"`
	Dist3D        float64   `json:"dist_3d"`
	DeltaTilt     float64   `json:"delta_tilt"`
	TiltMagnitude float64   `json:"tilt_magnitude"`
}

// ModelFeatureNames lists the anomaly model's input dimensions in order.
var ModelFeatureNames = []string{"delta_z", "dist_3d", "delta_tilt"}

// ModelInput reduces the vector to the anomaly model's input, ordered as
// ModelFeatureNames.
func (fv FeatureVector) ModelInput() [3]float64 {
	return [3]float64{fv.DeltaZ, fv.Dist3D, fv.DeltaTilt}
}
