package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"StoryRisk/internal/di"
	"StoryRisk/internal/usecase"
	"StoryRisk/pkg/config"
)

var configPath string

// RootCmd returns the storyrisk command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storyrisk",
		Short: "StoryRisk - story point estimation and estimate risk tooling",
		Long: `storyrisk runs the estimation service and operator tasks against its story store.
Commands that touch the store or the model read the same config file as the service.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	root.AddCommand(ClassifyCmd())
	root.AddCommand(SweepCmd())
	root.AddCommand(EstimateCmd())
	root.AddCommand(ServeCmd())
	root.AddCommand(DeadLettersCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withEstimator builds an estimator from the config, runs fn and waits for
// background writes before releasing the store.
func withEstimator(ctx context.Context, fn func(*usecase.Estimator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	est, cleanup, err := di.InitializeEstimator(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer cleanup()

	runErr := fn(est)
	if err := est.Drain(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
