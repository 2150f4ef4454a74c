package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/risk"
	"StoryRisk/internal/usecase"
)

// EstimateCmd runs one estimation through the configured predictor.
func EstimateCmd() *cobra.Command {
	var (
		title, description, project string
		influence, team             float64
		persist                     bool
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the story points of one story",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.EstimationInput{Title: title, Description: description, ProjectID: project}
			if cmd.Flags().Changed("team") {
				in.TeamEstimate = models.Num(team)
			}
			return withEstimator(cmd.Context(), func(est *usecase.Estimator) error {
				var infl *float64
				if cmd.Flags().Changed("influence") {
					infl = &influence
				}
				resolved := est.ResolveInfluence(infl)
				res, err := est.EstimateOne(cmd.Context(), in, resolved, persist)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "story point:        %s\n", strconv.FormatFloat(res.AdjustedPrediction, 'f', 2, 64))
				fmt.Fprintf(out, "base prediction:    %s\n", strconv.FormatFloat(res.RFPrediction, 'f', 2, 64))
				fmt.Fprintf(out, "confidence:         %s\n", strconv.FormatFloat(res.Confidence, 'f', 2, 64))
				fmt.Fprintf(out, "applied adjustment: %s (influence %s)\n",
					strconv.FormatFloat(res.AppliedAdjustment, 'f', 2, 64),
					strconv.FormatFloat(resolved, 'f', -1, 64))
				if te := in.TeamEstimate.Ptr(); te != nil {
					printAssessment(out, risk.Classify(res.AdjustedPrediction, *te))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "story title (required)")
	cmd.Flags().StringVar(&description, "description", "", "story description")
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().Float64Var(&influence, "influence", models.DefaultInfluence, "adjustment model influence in [0,1]")
	cmd.Flags().Float64Var(&team, "team", 0, "team estimate to compare against")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the estimation")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
