package types

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a displacement severity level. Tiers are ordered; a larger value is
// more severe.
type Tier int

const (
	TierNone Tier = iota
	TierCaution
	TierWarning
	TierDanger
)

var tierNames = [...]string{"NONE", "CAUTION", "WARNING", "DANGER"}

func (t Tier) String() string {
	if t < TierNone || t > TierDanger {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText renders the tier by name
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name, case-insensitively
func (t *Tier) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	for i, name := range tierNames {
		if name == s {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", string(b))
}

// AlertKind distinguishes displacement alerts from device health alerts.
type AlertKind string

const (
	AlertDisplacement AlertKind = "displacement"
	AlertLowBattery   AlertKind = "low_battery"
	AlertAnomaly      AlertKind = "anomaly"
)

// AlertEvent is raised for a reading that crossed a threshold. Alerts are
// derived and need not be stored.
type AlertEvent struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      AlertKind `json:"kind"`
	Tier      Tier      `json:"tier"`
	DeltaZ    float64   `json:"delta_z"`
	Battery   float64   `json:"battery,omitempty"`
	Message   string    `json:"message"`
}
