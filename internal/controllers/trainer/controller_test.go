package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/anomaly"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(ctx context.Context) (*types.AnomalyModel, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &types.AnomalyModel{Name: types.PrimaryModelName, SampleCount: 20}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControllerKeepsRunningThroughErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"insufficient data", fmt.Errorf("%w: have 3 feature vectors, need 20", anomaly.ErrInsufficientData)},
		{"storage failure", errors.New("database unreachable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var wg sync.WaitGroup
			runner := &countingRunner{err: tt.err}

			c, err := NewController(ctx, &wg, runner, 10*time.Millisecond, zap.NewNop().Sugar())
			if err != nil {
				t.Fatal(err)
			}
			c.StartController()

			waitFor(t, func() bool { return runner.calls.Load() >= 3 })

			cancel()
			wg.Wait()
		})
	}
}

func TestControllerRunsAtStartup(t *testing.T) {
	var wg sync.WaitGroup
	runner := &countingRunner{}

	c, err := NewController(context.Background(), &wg, runner, time.Hour, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	c.StartController()

	waitFor(t, func() bool { return runner.calls.Load() == 1 })

	c.Stop()
	c.Stop()
	wg.Wait()
}

func TestNewControllerRejectsBadInterval(t *testing.T) {
	if _, err := NewController(context.Background(), &sync.WaitGroup{}, &countingRunner{}, 0, zap.NewNop().Sugar()); err == nil {
		t.Fatal("expected error")
	}
}
