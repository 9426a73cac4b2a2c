// Package memory is an in-process repository used by tests and throwaway runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
)

var _ repository.Repository = (*Store)(nil)

// Store keeps everything in memory behind a RWMutex.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	readings []types.Reading
	model    *types.AnomalyModel
	profiles map[string]thresholds.Profile
}

// New creates an empty store
func New() *Store {
	return &Store{profiles: make(map[string]thresholds.Profile)}
}

// AppendReading stores a copy of r
func (s *Store) AppendReading(ctx context.Context, r *types.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	s.readings = append(s.readings, *r)
	return nil
}

// QueryReadings returns a sorted copy of the matching readings
func (s *Store) QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error) {
	s.mu.RLock()
	out := make([]types.Reading, 0, len(s.readings))
	for _, r := range s.readings {
		if deviceID == "" || r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// CountReadings returns the number of stored readings
func (s *Store) CountReadings(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings), nil
}

// Devices lists device ids with readings
func (s *Store) Devices(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range s.readings {
		if _, ok := seen[r.DeviceID]; !ok {
			seen[r.DeviceID] = struct{}{}
			ids = append(ids, r.DeviceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestModel returns a copy of the model slot
func (s *Store) LatestModel(ctx context.Context) (*types.AnomalyModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.model == nil {
		return nil, nil
	}
	m := *s.model
	m.Data = append([]byte(nil), s.model.Data...)
	return &m, nil
}

// PutModel replaces the model slot
func (s *Store) PutModel(ctx context.Context, m *types.AnomalyModel) error {
	cp := *m
	cp.Data = append([]byte(nil), m.Data...)

	s.mu.Lock()
	s.model = &cp
	s.mu.Unlock()
	return nil
}

// Clear drops the readings in scope and the model
func (s *Store) Clear(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deviceID == "" {
		s.readings = nil
	} else {
		kept := s.readings[:0]
		for _, r := range s.readings {
			if r.DeviceID != deviceID {
				kept = append(kept, r)
			}
		}
		s.readings = kept
	}
	s.model = nil
	return nil
}

// GetProfile returns a stored threshold profile
func (s *Store) GetProfile(ctx context.Context, deviceID string) (thresholds.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[deviceID]
	return p, ok, nil
}

// PutProfile stores a threshold profile
func (s *Store) PutProfile(ctx context.Context, p thresholds.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.DeviceID] = p
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
