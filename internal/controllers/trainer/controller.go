// Package trainer runs the anomaly trainer on a fixed schedule inside the
// daemon. The first run happens at start-up.
package trainer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sinkbot-iot/sinkbot/internal/anomaly"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"go.uber.org/zap"
)

// Runner trains and stores a model from the full corpus
type Runner interface {
	Run(ctx context.Context) (*types.AnomalyModel, error)
}

// Controller manages the retraining lifecycle
type Controller struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	runner   Runner
	interval time.Duration
	logger   *zap.SugaredLogger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewController creates a new retraining controller
func NewController(ctx context.Context, wg *sync.WaitGroup, runner Runner, interval time.Duration, logger *zap.SugaredLogger) (*Controller, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("training interval must be positive, got %s", interval)
	}

	return &Controller{
		ctx:      ctx,
		wg:       wg,
		runner:   runner,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

// StartController launches the retraining loop in the background
func (c *Controller) StartController() error {
	c.logger.Infof("Starting anomaly model trainer (every %s)", c.interval)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		c.loop()
	}()

	return nil
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runOnce()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Anomaly model trainer stopped (context cancelled)")
			return
		case <-c.stopChan:
			c.logger.Info("Anomaly model trainer stopped (stop requested)")
			return
		case <-ticker.C:
			c.runOnce()
		}
	}
}

// runOnce trains once. Failures are logged and retried on the next tick.
func (c *Controller) runOnce() {
	m, err := c.runner.Run(c.ctx)
	switch {
	case anomaly.IsInsufficientData(err):
		c.logger.Infof("Not training yet: %v", err)
	case err != nil:
		c.logger.Errorf("Anomaly model training failed: %v", err)
	default:
		c.logger.Debugf("Anomaly model refreshed on %d samples", m.SampleCount)
	}
}

// Stop gracefully stops the controller
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping anomaly model trainer...")
		close(c.stopChan)
	})
	return nil
}
