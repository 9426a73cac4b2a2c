package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sinkbot-iot/sinkbot/internal/anomaly"
	"github.com/sinkbot-iot/sinkbot/internal/managers"
	"github.com/sinkbot-iot/sinkbot/internal/monitor"
	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Components are the wired core services over one repository
type Components struct {
	Repo     repository.Repository
	Registry *thresholds.Registry
	Scorer   *anomaly.Scorer
	Trainer  *anomaly.Trainer
	Monitor  *monitor.Monitor
}

// TrainerConfig maps the trainer configuration section onto the trainer
func TrainerConfig(t config.TrainerData) anomaly.TrainerConfig {
	return anomaly.TrainerConfig{
		Contamination: t.Contamination,
		MinSamples:    t.MinSamples,
		RandomSeed:    t.Seed(),
		NumTrees:      t.NumTrees,
		MaxSamples:    t.MaxSamples,
	}
}

// Build opens the configured repository and wires the services on top of
// it. The caller owns Repo and must close it.
func Build(ctx context.Context, c *config.ConfigData, logger *zap.SugaredLogger) (*Components, error) {
	repo, err := managers.NewRepository(ctx, &c.Storage, logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	defaults := thresholds.Profile{
		Tier1: c.Alerting.DefaultThresholds.Tier1,
		Tier2: c.Alerting.DefaultThresholds.Tier2,
		Tier3: c.Alerting.DefaultThresholds.Tier3,
	}
	registry, err := thresholds.NewRegistry(repo, defaults, logger.Named("thresholds"))
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("invalid default thresholds: %w", err)
	}

	trainer, err := anomaly.NewTrainer(repo, TrainerConfig(c.Trainer), logger.Named("trainer"))
	if err != nil {
		repo.Close()
		return nil, err
	}

	scorer := anomaly.NewScorer(repo, logger.Named("scorer"))

	return &Components{
		Repo:     repo,
		Registry: registry,
		Scorer:   scorer,
		Trainer:  trainer,
		Monitor:  monitor.New(repo, registry, scorer, trainer, c.Alerting.BatteryLimit(), logger.Named("monitor")),
	}, nil
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return err
	}

	comps, err := Build(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer comps.Repo.Close()

	cm, err := managers.NewControllerManager(ctx, &wg, cfg, comps.Monitor, comps.Trainer, a.logger)
	if err != nil {
		return err
	}
	err = cm.StartControllers()
	if err != nil {
		return err
	}

	a.logger.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		a.logger.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	a.logger.Info("waiting for all workers to terminate...")
	wg.Wait()
	a.logger.Info("shutdown complete")

	return nil
}

// TrainOnce runs a single batch training pass against the configured
// repository. Insufficient data is reported but is not a failure.
func TrainOnce(ctx context.Context, provider config.ConfigProvider, logger *zap.SugaredLogger) error {
	cfg, err := provider.LoadConfig()
	if err != nil {
		return err
	}

	comps, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Repo.Close()

	m, err := comps.Trainer.Run(ctx)
	if anomaly.IsInsufficientData(err) {
		logger.Infof("model not trained: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infof("stored model %q trained at %s on %d samples", m.Name, m.TrainedAt.Format("2006-01-02 15:04:05"), m.SampleCount)
	return nil
}
