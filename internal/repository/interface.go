// Package repository defines the storage contract of the monitoring core.
// Concrete backends live in the subpackages and are chosen once at start-up;
// nothing outside the factory knows which one is in use.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
)

// Repository stores readings append-only, holds the single anomaly model slot
// and persists threshold profiles.
type Repository interface {
	// AppendReading stores r and assigns its ID
	AppendReading(ctx context.Context, r *types.Reading) error

	// QueryReadings returns the readings of deviceID, or of every device when
	// deviceID is empty, ordered by device, timestamp and ID
	QueryReadings(ctx context.Context, deviceID string) ([]types.Reading, error)

	// CountReadings returns the number of complete readings of every device
	CountReadings(ctx context.Context) (int, error)

	// Devices lists the ids of devices with stored readings, sorted
	Devices(ctx context.Context) ([]string, error)

	// LatestModel returns the stored model, or nil when the slot is empty
	LatestModel(ctx context.Context) (*types.AnomalyModel, error)

	// PutModel atomically replaces the model slot
	PutModel(ctx context.Context, m *types.AnomalyModel) error

	// Clear deletes the readings of deviceID (all readings when empty) and
	// the stored model
	Clear(ctx context.Context, deviceID string) error

	thresholds.Store

	Close() error
}

// StorageError is returned for any backend failure. The operation that failed
// did not leave partial writes behind.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap tags err as a StorageError for op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from a storage backend
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
