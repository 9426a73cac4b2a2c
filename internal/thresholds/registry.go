package thresholds

import (
	"context"

	"go.uber.org/zap"
)

// Store persists threshold profiles keyed by device id.
type Store interface {
	// GetProfile returns the stored profile and whether one exists
	GetProfile(ctx context.Context, deviceID string) (Profile, bool, error)
	PutProfile(ctx context.Context, p Profile) error
}

// Registry is the explicit owner of per-device threshold configuration. It
// validates every update before it reaches the store, so a rejected update
// leaves the prior profile in force.
type Registry struct {
	store    Store
	defaults Profile
	logger   *zap.SugaredLogger
}

// NewRegistry creates a registry. defaults supplies the tiers of devices that
// have no stored profile; its DeviceID is ignored.
func NewRegistry(store Store, defaults Profile, logger *zap.SugaredLogger) (*Registry, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &Registry{store: store, defaults: defaults, logger: logger}, nil
}

// Profile returns the active profile of a device
func (r *Registry) Profile(ctx context.Context, deviceID string) (Profile, error) {
	p, ok, err := r.store.GetProfile(ctx, deviceID)
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		d := r.defaults
		d.DeviceID = deviceID
		return d, nil
	}
	return p, nil
}

// Update validates and stores a new profile
func (r *Registry) Update(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		r.logger.Warnf("rejected threshold update: %v", err)
		return err
	}

	if err := r.store.PutProfile(ctx, p); err != nil {
		return err
	}

	r.logger.Infof("threshold profile for %s set to [%.3f, %.3f, %.3f]", p.DeviceID, p.Tier1, p.Tier2, p.Tier3)
	return nil
}
