package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	summaryDays    int
	summaryCompare bool
	summaryJSON    bool
)

// summaryReport is the JSON shape of `oura summary`.
type summaryReport struct {
	Current  models.Summary      `json:"current"`
	Previous *models.Summary     `json:"previous,omitempty"`
	Change   map[string]*float64 `json:"change,omitempty"`
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the configured metrics over recent days",
	Long: `Summarize every configured metric (analysis.metrics) over the last N days:
average, trend direction and best and worst day, plus the number of days
tracked per endpoint.

--compare also summarizes the N days before that and shows the change in
each average.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAnalyzer(); err != nil {
			return err
		}
		ctx := ctxOf(cmd)
		endpoints := refEndpoints(Analyzer.Config().Metrics)

		start, end := lastDays(summaryDays)
		sets, err := readSets(ctx, endpoints, start, end)
		if err != nil {
			return err
		}
		report := summaryReport{Current: Analyzer.Summary(sets)}
		report.Current.Start, report.Current.End = start, end

		if summaryCompare {
			pEnd := start.AddDays(-1)
			pStart := pEnd.AddDays(-(summaryDays - 1))
			prevSets, err := readSets(ctx, endpoints, pStart, pEnd)
			if err != nil {
				return err
			}
			prev := Analyzer.Summary(prevSets)
			prev.Start, prev.End = pStart, pEnd
			report.Previous = &prev
			report.Change = Analyzer.Compare(report.Current, prev)
		}

		out := cmd.OutOrStdout()
		if summaryJSON {
			return printJSON(out, report)
		}

		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Summary %s .. %s", start, end)))
		for _, e := range endpoints {
			fmt.Fprintf(out, "  %-10s %d days tracked\n", e, report.Current.DaysTracked[e])
		}
		fmt.Fprintln(out)
		header := fmt.Sprintf("  %-28s %8s  %-8s  %-10s  %-10s", "METRIC", "AVG", "TREND", "BEST", "WORST")
		if summaryCompare {
			header += fmt.Sprintf("  %8s", "CHANGE")
		}
		fmt.Fprintln(out, headerStyle.Render(header))

		for _, key := range core.SortedMetricKeys(report.Current) {
			ms := report.Current.Metrics[key]
			avg, trend, best, worst := "-", dimStyle.Render("-"), "-", "-"
			if ms.Average != nil {
				avg = fmt.Sprintf("%.1f", *ms.Average)
			}
			if ms.Trend != nil {
				trend = directionLabel(ms.Trend.Direction)
			}
			if !ms.BestDay.IsZero() {
				best, worst = ms.BestDay.String(), ms.WorstDay.String()
			}
			line := fmt.Sprintf("  %-28s %8s  %-8s  %-10s  %-10s", key, avg, trend, best, worst)
			if summaryCompare {
				change := "-"
				if d := report.Change[key]; d != nil {
					change = fmt.Sprintf("%+.1f", *d)
				}
				line += fmt.Sprintf("  %8s", change)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	summaryCmd.Flags().IntVar(&summaryDays, "days", 7, "Number of days to summarize")
	summaryCmd.Flags().BoolVar(&summaryCompare, "compare", false, "Compare with the preceding period")
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(summaryCmd)
}
