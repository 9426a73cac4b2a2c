package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sinkbot-iot/sinkbot/internal/app"
	"github.com/sinkbot-iot/sinkbot/internal/constants"
	"github.com/sinkbot-iot/sinkbot/internal/log"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
)

func main() {
	cfgFile := flag.String("config", "", "Path to YAML configuration file (built-in defaults when empty)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sinkbot %s\n", constants.Version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filename := *cfgFile
	if filename != "" {
		filename, _ = filepath.Abs(filename)
	}
	provider := config.NewYAMLProvider(filename)
	log.Infof("sinkbot %s starting", constants.Version)

	application := app.New(provider, log.Named("sinkbot"))
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
