package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	stressDays int
	stressJSON bool
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Estimate daily stress and flag likely travel days",
	Long: `Estimate stress for each cached sleep day over the last N days.

A reported stress score or status label wins. Otherwise a proxy is derived
from HRV and resting heart rate against their period averages, inverted
readiness contributors and inverted sleep efficiency. Scores run 0-100:
up to 40 is LOW, up to 65 MODERATE, above that HIGH.

Days whose bedtime sits more than analysis.travel_threshold_hours from the
median bedtime, in analysis.timezone, are listed as likely travel days.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStore(); err != nil {
			return err
		}
		start, end := lastDays(stressDays)
		sets, err := readSets(ctxOf(cmd), []models.Endpoint{models.EndpointSleep, models.EndpointReadiness}, start, end)
		if err != nil {
			return err
		}

		summary := core.SummarizeStress(sets[models.EndpointSleep], sets[models.EndpointReadiness])
		summary.Start, summary.End = start, end
		threshold := core.DefaultTravelThresholdHours
		if Config != nil && Config.Analysis.TravelThresholdHours > 0 {
			threshold = Config.Analysis.TravelThresholdHours
		}
		summary.TravelDays = core.DetectTravelDays(sets[models.EndpointSleep], location(), threshold)

		out := cmd.OutOrStdout()
		if stressJSON {
			return printJSON(out, summary)
		}

		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Stress %s .. %s", start, end)))
		if summary.Average == nil {
			fmt.Fprintln(out, dimStyle.Render("  No stress signals cached for this period."))
		} else {
			fmt.Fprintf(out, "  Average %.1f %s  trend %+.1f %s\n", *summary.Average, stressLevelLabel(summary.Status),
				*summary.Trend, directionLabel(summary.TrendDirection))
			fmt.Fprintf(out, "  Best %s  Worst %s\n", summary.BestDay, summary.WorstDay)
			fmt.Fprintf(out, "  %d days tracked: %d direct, %d derived\n\n", summary.DaysTracked, summary.DirectDays, summary.DerivedDays)

			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("  %-10s  %6s  %-8s  %-8s", "DAY", "SCORE", "STATUS", "SOURCE")))
			for _, d := range summary.Days {
				fmt.Fprintf(out, "  %-10s  %6.1f  %-8s  %-8s\n", d.Day, *d.Score, d.Status, d.Source)
			}
		}

		if len(summary.TravelDays) > 0 {
			days := make([]string, len(summary.TravelDays))
			for i, d := range summary.TravelDays {
				days[i] = d.String()
			}
			fmt.Fprintf(out, "\nLikely travel days: %s\n", strings.Join(days, ", "))
		}
		return nil
	},
}

func init() {
	stressCmd.Flags().IntVar(&stressDays, "days", 7, "Number of days to analyze")
	stressCmd.Flags().BoolVar(&stressJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(stressCmd)
}
