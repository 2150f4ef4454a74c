package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"StoryRisk/internal/di"
)

// ServeCmd starts the HTTP service, consumer and scheduler.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the estimation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer cleanup()
			return app.Run(cmd.Context())
		},
	}
}
