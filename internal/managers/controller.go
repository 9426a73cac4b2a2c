package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sinkbot-iot/sinkbot/internal/anomaly"
	"github.com/sinkbot-iot/sinkbot/internal/controllers/restserver"
	"github.com/sinkbot-iot/sinkbot/internal/controllers/trainer"
	"github.com/sinkbot-iot/sinkbot/internal/monitor"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
	"go.uber.org/zap"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// NewControllerManager creates the API server and the retraining loop
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, c *config.ConfigData, mon *monitor.Monitor, t *anomaly.Trainer, logger *zap.SugaredLogger) (ControllerManager, error) {
	cm := &controllerManager{
		logger: logger,
	}

	rest, err := restserver.NewController(ctx, wg, c.Server, mon, logger.Named("rest"))
	if err != nil {
		return nil, fmt.Errorf("error creating REST controller: %v", err)
	}
	cm.controllers = append(cm.controllers, rest)

	interval, err := c.Trainer.TrainingInterval()
	if err != nil {
		return nil, err
	}
	tc, err := trainer.NewController(ctx, wg, t, interval, logger.Named("trainer"))
	if err != nil {
		return nil, fmt.Errorf("error creating trainer controller: %v", err)
	}
	cm.controllers = append(cm.controllers, tc)

	return cm, nil
}

type controllerManager struct {
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %v", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}
