// Command app runs the StoryRisk estimation service. It is the container
// entrypoint; operator tasks live in cmd/storyrisk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"StoryRisk/internal/di"
	"StoryRisk/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("storyrisk: %v", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	log.Printf("starting env=%s store=%s predictor=%s queue=%t",
		cfg.Environment, cfg.Store.Type, cfg.Predictor.Type, cfg.Queue.Enabled)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	// Blocks until SIGINT/SIGTERM.
	return app.Run(context.Background())
}
