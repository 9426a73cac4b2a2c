// Package thresholds classifies vertical displacement into alert tiers using
// per-device, operator-configured profiles.
package thresholds

import (
	"fmt"
	"math"

	"github.com/sinkbot-iot/sinkbot/internal/types"
)

// DefaultLowBatteryPercent is the charge below which a device raises a
// low-battery alert.
const DefaultLowBatteryPercent = 20.0

// DefaultProfile returns the stock tiers (meters) used for devices without an
// operator-supplied profile.
func DefaultProfile(deviceID string) Profile {
	return Profile{DeviceID: deviceID, Tier1: 0.010, Tier2: 0.030, Tier3: 0.050}
}

// Profile holds a device's tier boundaries in meters. Tier1 < Tier2 < Tier3.
type Profile struct {
	DeviceID string  `json:"device_id" yaml:"device_id"`
	Tier1    float64 `json:"tier1" yaml:"tier1"`
	Tier2    float64 `json:"tier2" yaml:"tier2"`
	Tier3    float64 `json:"tier3" yaml:"tier3"`
}

// ConfigError rejects a non-monotonic or otherwise unusable profile.
type ConfigError struct {
	Profile Profile
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid threshold profile for %q [%.4f, %.4f, %.4f]: %s",
		e.Profile.DeviceID, e.Profile.Tier1, e.Profile.Tier2, e.Profile.Tier3, e.Reason)
}

// Validate checks the profile before it may be used or stored
func (p Profile) Validate() error {
	for _, v := range []float64{p.Tier1, p.Tier2, p.Tier3} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigError{Profile: p, Reason: "tiers must be finite"}
		}
	}
	if p.Tier1 < 0 {
		return &ConfigError{Profile: p, Reason: "tier1 must not be negative"}
	}
	if p.Tier1 >= p.Tier2 {
		return &ConfigError{Profile: p, Reason: "tier1 must be below tier2"}
	}
	if p.Tier2 >= p.Tier3 {
		return &ConfigError{Profile: p, Reason: "tier2 must be below tier3"}
	}
	return nil
}

// Evaluate returns the highest tier whose boundary deltaZ reaches. A value
// exactly on a boundary belongs to that boundary's tier.
func Evaluate(deltaZ float64, p Profile) (types.Tier, error) {
	if err := p.Validate(); err != nil {
		return types.TierNone, err
	}

	switch {
	case deltaZ >= p.Tier3:
		return types.TierDanger, nil
	case deltaZ >= p.Tier2:
		return types.TierWarning, nil
	case deltaZ >= p.Tier1:
		return types.TierCaution, nil
	default:
		return types.TierNone, nil
	}
}

// LowBattery reports whether battery is below limit percent
func LowBattery(battery, limit float64) bool {
	return battery < limit
}

// Alerts evaluates a feature vector and its reading's battery charge. The
// battery check is independent of the displacement tier.
func Alerts(fv types.FeatureVector, battery float64, p Profile, batteryLimit float64) ([]types.AlertEvent, error) {
	tier, err := Evaluate(fv.DeltaZ, p)
	if err != nil {
		return nil, err
	}

	var alerts []types.AlertEvent
	if tier > types.TierNone {
		alerts = append(alerts, types.AlertEvent{
			DeviceID:  fv.DeviceID,
			Timestamp: fv.Timestamp,
			Kind:      types.AlertDisplacement,
			Tier:      tier,
			DeltaZ:    fv.DeltaZ,
			Message:   fmt.Sprintf("%s: vertical displacement %.4fm reached %s", fv.DeviceID, fv.DeltaZ, tier),
		})
	}

	if LowBattery(battery, batteryLimit) {
		alerts = append(alerts, types.AlertEvent{
			DeviceID:  fv.DeviceID,
			Timestamp: fv.Timestamp,
			Kind:      types.AlertLowBattery,
			DeltaZ:    fv.DeltaZ,
			Battery:   battery,
			Message:   fmt.Sprintf("%s: battery low (%.1f%%)", fv.DeviceID, battery),
		})
	}

	return alerts, nil
}
