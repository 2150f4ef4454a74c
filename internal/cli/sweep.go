package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"StoryRisk/internal/usecase"
)

// SweepCmd runs one backfill sweep against the configured store.
func SweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fill in missing risk data for stories with a team estimate",
		Long: `Walk every stored story and compute risk data for those that have a team
estimate but none stored. Safe to run multiple times (idempotent); stories
changed while the sweep runs are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEstimator(cmd.Context(), func(est *usecase.Estimator) error {
				rep, err := est.Sweep(cmd.Context())
				if err != nil {
					return fmt.Errorf("sweep failed after %d stories: %w", rep.Scanned, err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "scanned:  %d\n", rep.Scanned)
				fmt.Fprintf(out, "repaired: %s\n", color.New(color.FgGreen).Sprint(rep.Repaired))
				fmt.Fprintf(out, "skipped:  %s\n", color.New(color.FgYellow).Sprint(rep.Skipped))
				fmt.Fprintf(out, "failed:   %s\n", color.New(color.FgRed).Sprint(rep.Failed))
				if rep.Failed > 0 {
					return fmt.Errorf("%d stories could not be updated", rep.Failed)
				}
				return nil
			})
		},
	}
}
