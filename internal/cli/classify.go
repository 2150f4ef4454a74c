package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/risk"
)

// ClassifyCmd compares a team estimate with a story point offline.
func ClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <storyPoint> <teamEstimate>",
		Short: "Classify the risk of a team estimate against a story point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := parseNumber("storyPoint", args[0])
			if err != nil {
				return err
			}
			te, err := parseNumber("teamEstimate", args[1])
			if err != nil {
				return err
			}
			printAssessment(cmd.OutOrStdout(), risk.Classify(sp, te))
			return nil
		},
	}
}

func parseNumber(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !models.IsFinite(v) {
		return 0, fmt.Errorf("%s must be a number, got %q", name, s)
	}
	return v, nil
}

func levelColor(l risk.Level) *color.Color {
	switch l {
	case risk.High:
		return color.New(color.FgRed, color.Bold)
	case risk.Medium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func printAssessment(w io.Writer, a risk.Assessment) {
	fmt.Fprintf(w, "difference: %s\n", strconv.FormatFloat(a.Difference, 'f', -1, 64))
	fmt.Fprintf(w, "status:     %s\n", a.ComparisonStatus)
	fmt.Fprintf(w, "risk:       %s\n", levelColor(a.RiskLevel).Sprint(a.RiskLevel))
}
