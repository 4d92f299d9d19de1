package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	trendDays   int
	trendWindow int
	trendJSON   bool

	anomalyDays   int
	anomalyWindow int
	anomalySigma  float64
	anomalyJSON   bool

	correlateDays int
	correlateJSON bool
)

func requireAnalyzer() error {
	if err := requireStore(); err != nil {
		return err
	}
	if Analyzer == nil {
		return fmt.Errorf("analyzer not initialized")
	}
	return nil
}

var trendCmd = &cobra.Command{
	Use:   "trend <endpoint.field>",
	Short: "Show the moving average and direction of a metric",
	Long: `Show a metric's daily values next to its trailing moving average, and
whether the latest value is above (up), below (down) or within the flat
band of the average.

Examples:
  oura trend readiness.score
  oura trend sleep.total_sleep_hours --days 60 --window 14`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAnalyzer(); err != nil {
			return err
		}
		ref, err := models.ParseMetricRef(args[0])
		if err != nil {
			return err
		}
		start, end := lastDays(trendDays)
		set, err := Store.ReadRange(ctxOf(cmd), ref.Endpoint, start, end)
		if err != nil {
			return fmt.Errorf("reading %s: %w", ref.Endpoint, err)
		}

		out := cmd.OutOrStdout()
		tr, ok := Analyzer.Trend(set, ref.Field, trendWindow)
		if !ok {
			fmt.Fprintf(out, "No %s data between %s and %s.\n", ref.Key(), start, end)
			return nil
		}
		tr.Metric = ref.Key()
		if trendJSON {
			return printJSON(out, tr)
		}

		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s, %d-record moving average", tr.Metric, tr.WindowDays)))
		for i, dv := range tr.Values {
			fmt.Fprintf(out, "  %s  %8.1f  %8.1f\n", dv.Day, dv.Value, tr.MovingAverage[i])
		}
		fmt.Fprintf(out, "\nTrend: %s (%+.1f vs average)\n", directionLabel(tr.Direction), tr.Delta)
		return nil
	},
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies [endpoint.field...]",
	Short: "List days that deviate sharply from their trailing baseline",
	Long: `Flag values more than --sigma sample standard deviations away from the
mean of the preceding --window records. With no metric arguments every
configured summary metric is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAnalyzer(); err != nil {
			return err
		}
		refs, err := metricRefs(args)
		if err != nil {
			return err
		}
		start, end := lastDays(anomalyDays)
		sets, err := readSets(ctxOf(cmd), refEndpoints(refs), start, end)
		if err != nil {
			return err
		}

		var flags []models.AnomalyFlag
		for _, ref := range refs {
			for f := range Analyzer.DetectAnomalies(sets[ref.Endpoint], ref.Field, anomalyWindow, anomalySigma) {
				f.Metric = ref.Key()
				flags = append(flags, f)
			}
		}

		out := cmd.OutOrStdout()
		if anomalyJSON {
			if flags == nil {
				flags = []models.AnomalyFlag{}
			}
			return printJSON(out, flags)
		}
		if len(flags) == 0 {
			fmt.Fprintf(out, "No anomalies between %s and %s.\n", start, end)
			return nil
		}
		fmt.Fprintf(out, "%d anomal%s:\n\n", len(flags), plural(len(flags), "y", "ies"))
		for _, f := range flags {
			fmt.Fprintf(out, "  %s  %-32s %8.1f  baseline %.1f  (%+.1fσ)\n",
				f.Day, f.Metric, f.Value, f.Baseline, f.DeviationSigma)
		}
		return nil
	},
}

// correlation is the JSON shape of `oura correlate`.
type correlation struct {
	X       string   `json:"x"`
	Y       string   `json:"y"`
	R       *float64 `json:"r"`
	Overlap int      `json:"overlap_days"`
}

var correlateCmd = &cobra.Command{
	Use:   "correlate <endpoint.field> <endpoint.field>",
	Short: "Pearson correlation of two metrics over shared days",
	Long: `Compute the Pearson correlation of two metrics over the days both are
present, e.g. whether HRV tracks readiness:

  oura correlate hrv.average_hrv readiness.score --days 90`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAnalyzer(); err != nil {
			return err
		}
		refs, err := metricRefs(args)
		if err != nil {
			return err
		}
		start, end := lastDays(correlateDays)
		sets, err := readSets(ctxOf(cmd), refEndpoints(refs), start, end)
		if err != nil {
			return err
		}
		x := sets[refs[0].Endpoint].Series(refs[0].Field)
		y := sets[refs[1].Endpoint].Series(refs[1].Field)

		res := correlation{X: refs[0].Key(), Y: refs[1].Key(), Overlap: overlap(x, y)}
		if r, ok := Analyzer.Correlate(x, y); ok {
			res.R = &r
		}

		out := cmd.OutOrStdout()
		if correlateJSON {
			return printJSON(out, res)
		}
		if res.R == nil {
			fmt.Fprintf(out, "Not enough data to correlate %s and %s (%d shared days).\n", res.X, res.Y, res.Overlap)
			return nil
		}
		fmt.Fprintf(out, "r = %.3f over %d shared days (%s vs %s)\n", *res.R, res.Overlap, res.X, res.Y)
		return nil
	},
}

// metricRefs parses metric arguments, defaulting to the configured summary
// metrics.
func metricRefs(args []string) ([]models.MetricRef, error) {
	if len(args) == 0 {
		return Analyzer.Config().Metrics, nil
	}
	refs := make([]models.MetricRef, 0, len(args))
	for _, a := range args {
		ref, err := models.ParseMetricRef(a)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func refEndpoints(refs []models.MetricRef) []models.Endpoint {
	var eps []models.Endpoint
	for _, r := range refs {
		if !slices.Contains(eps, r.Endpoint) {
			eps = append(eps, r.Endpoint)
		}
	}
	return eps
}

func overlap(x, y models.Series) int {
	days := make(map[string]bool, len(x))
	for _, dv := range x {
		days[dv.Day.String()] = true
	}
	n := 0
	for _, dv := range y {
		if days[dv.Day.String()] {
			n++
		}
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	trendCmd.Flags().IntVar(&trendDays, "days", 30, "Number of days to analyze")
	trendCmd.Flags().IntVar(&trendWindow, "window", 0, "Moving average window in records (default: analysis.window_days)")
	trendCmd.Flags().BoolVar(&trendJSON, "json", false, "Output as JSON")

	anomaliesCmd.Flags().IntVar(&anomalyDays, "days", 30, "Number of days to analyze")
	anomaliesCmd.Flags().IntVar(&anomalyWindow, "window", 0, "Baseline window in records (default: analysis.window_days)")
	anomaliesCmd.Flags().Float64Var(&anomalySigma, "sigma", 0, "Deviation threshold (default: analysis.sigma_threshold)")
	anomaliesCmd.Flags().BoolVar(&anomalyJSON, "json", false, "Output as JSON")

	correlateCmd.Flags().IntVar(&correlateDays, "days", 90, "Number of days to analyze")
	correlateCmd.Flags().BoolVar(&correlateJSON, "json", false, "Output as JSON")

	trendCmd.ValidArgsFunction = completeMetricRefs(1)
	anomaliesCmd.ValidArgsFunction = completeMetricRefs(0)
	correlateCmd.ValidArgsFunction = completeMetricRefs(2)
	rootCmd.AddCommand(trendCmd, anomaliesCmd, correlateCmd)
}
