package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	infoJSON    bool
	infoMetrics bool
)

// cacheInfo is the on-demand cache manifest shown by `oura info`.
type cacheInfo struct {
	DataDir     string                 `json:"data_dir"`
	Backend     string                 `json:"backend"`
	Endpoints   []models.StoreStats    `json:"endpoints"`
	Records     int                    `json:"records"`
	TotalBytes  int64                  `json:"total_bytes"`
	AlertStates int                    `json:"alert_states"`
	Metrics     []observability.Sample `json:"metrics,omitempty"`
	// EventTotals counts every logged event by type across all runs.
	EventTotals map[string]int `json:"event_totals,omitempty"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what the local cache holds",
	Long: `Show per-endpoint record counts, disk usage and the covered date range,
plus the number of fired alert states. The manifest is computed from the
store on every call and never persisted.

--metrics adds the counters of this process (upserts, corrupt records,
deletes, alerts fired, notification failures). They start at zero on every
run, so lifetime totals per event type (alerts fired, notification
failures, syncs, retention cleanups) are also counted from the event log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStore(); err != nil {
			return err
		}
		ctx := ctxOf(cmd)

		info := cacheInfo{DataDir: DataDir}
		if Config != nil {
			info.Backend = Config.Store.Backend
		}
		for _, e := range models.AllEndpoints() {
			st, err := Store.Stats(ctx, e)
			if err != nil {
				return fmt.Errorf("reading %s stats: %w", e, err)
			}
			info.Endpoints = append(info.Endpoints, st)
			info.Records += st.Count
			info.TotalBytes += st.TotalBytes
		}
		if AlertState != nil {
			states, err := AlertState.List(ctx)
			if err != nil {
				return fmt.Errorf("reading alert state: %w", err)
			}
			info.AlertStates = len(states)
		}
		if infoMetrics {
			samples, err := Metrics.Samples()
			if err != nil {
				return err
			}
			info.Metrics = samples
			if EventLog != nil {
				totals, err := observability.CountByType(EventLog, observability.EventFilter{})
				if err != nil {
					return fmt.Errorf("counting events: %w", err)
				}
				info.EventTotals = totals
			}
		}

		out := cmd.OutOrStdout()
		if infoJSON {
			return printJSON(out, info)
		}

		fmt.Fprintln(out, titleStyle.Render("Oura cache"))
		fmt.Fprintf(out, "  %-14s %s\n", "Data dir:", info.DataDir)
		fmt.Fprintf(out, "  %-14s %s\n\n", "Backend:", info.Backend)
		fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("  %-10s %8s %10s  %s", "ENDPOINT", "RECORDS", "BYTES", "RANGE")))
		for _, st := range info.Endpoints {
			rng := dimStyle.Render("empty")
			if st.Count > 0 {
				rng = fmt.Sprintf("%s .. %s", st.MinDay, st.MaxDay)
			}
			fmt.Fprintf(out, "  %-10s %8d %10d  %s\n", st.Endpoint, st.Count, st.TotalBytes, rng)
		}
		fmt.Fprintf(out, "\n  %-14s %d records, %d bytes\n", "Total:", info.Records, info.TotalBytes)
		fmt.Fprintf(out, "  %-14s %d\n", "Alert states:", info.AlertStates)

		if infoMetrics {
			fmt.Fprintln(out, "\n"+headerStyle.Render("  Metrics (this run)"))
			for _, s := range info.Metrics {
				fmt.Fprintf(out, "    %-50s %g\n", s.Name, s.Value)
			}
			fmt.Fprintln(out, "\n"+headerStyle.Render("  Events (all runs)"))
			types := make([]string, 0, len(info.EventTotals))
			for typ := range info.EventTotals {
				types = append(types, typ)
			}
			sort.Strings(types)
			if len(types) == 0 {
				fmt.Fprintln(out, dimStyle.Render("    none logged"))
			}
			for _, typ := range types {
				fmt.Fprintf(out, "    %-50s %d\n", typ, info.EventTotals[typ])
			}
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
	infoCmd.Flags().BoolVar(&infoMetrics, "metrics", false, "Include this run's counters and lifetime event totals")
	rootCmd.AddCommand(infoCmd)
}
