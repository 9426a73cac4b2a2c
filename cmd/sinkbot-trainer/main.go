// Command sinkbot-trainer fits the anomaly model once over every stored
// reading and exits. It is meant to be run from cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sinkbot-iot/sinkbot/internal/app"
	"github.com/sinkbot-iot/sinkbot/internal/log"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
)

func main() {
	cfgFile := flag.String("config", "", "Path to YAML configuration file (built-in defaults when empty)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.TrainOnce(ctx, config.NewYAMLProvider(*cfgFile), log.Named("trainer")); err != nil {
		log.Errorf("Training failed: %v", err)
		os.Exit(1)
	}
}
