package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	clearEndpoint   string
	clearConfirm    bool
	clearAllConfirm bool

	cleanupDays     int
	cleanupEndpoint string
	cleanupConfirm  bool
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete cached records",
	Long: `Delete every cached record, or those of one endpoint with --endpoint.
Fired alert state and the event log are kept.

Without --confirm nothing is deleted; the command prints what would go.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Guard == nil {
			return fmt.Errorf("cache guard not initialized")
		}
		ep, err := endpointFlag(clearEndpoint)
		if err != nil {
			return err
		}
		res, err := Guard.ClearCache(ctxOf(cmd), ep, clearConfirm)
		out := cmd.OutOrStdout()
		printCounts(out, res.Deleted)
		if err != nil {
			return dryRunNotice(out, err, res.Total(), "records")
		}
		fmt.Fprintf(out, "Deleted %d records.\n", res.Total())
		return nil
	},
}

var clearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Delete all cached records and alert state",
	Long: `Delete every cached record and every fired alert state, so the next
evaluation may alert again. The event log is kept.

Without --confirm nothing is deleted; the command prints what would go.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Guard == nil {
			return fmt.Errorf("cache guard not initialized")
		}
		res, err := Guard.ClearAll(ctxOf(cmd), clearAllConfirm)
		out := cmd.OutOrStdout()
		printCounts(out, res.Deleted)
		fmt.Fprintf(out, "  %-10s %d\n", "alerts", res.ClearedStates)
		if err != nil {
			return dryRunNotice(out, err, res.Total()+res.ClearedStates, "records and alert states")
		}
		fmt.Fprintf(out, "Deleted %d records and %d alert states.\n", res.Total(), res.ClearedStates)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete records older than the retention horizon",
	Long: `Delete records dated before today minus --days (default: the configured
retention.horizon_days) and prune alert state older than the same cutoff.
The cutoff day itself is kept. Running it twice deletes nothing the second
time.

Without --confirm nothing is deleted; the command prints what would go.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Guard == nil {
			return fmt.Errorf("cache guard not initialized")
		}
		ep, err := endpointFlag(cleanupEndpoint)
		if err != nil {
			return err
		}
		days := cleanupDays
		if !cmd.Flags().Changed("days") && Config != nil {
			days = Config.Retention.HorizonDays
		}

		res, err := Guard.Cleanup(ctxOf(cmd), days, ep, cleanupConfirm)
		out := cmd.OutOrStdout()
		if !res.Cutoff.IsZero() {
			fmt.Fprintf(out, "Cutoff: %s (horizon %d days)\n", res.Cutoff, days)
		}
		printCounts(out, res.Deleted)
		fmt.Fprintf(out, "  %-10s %d\n", "alerts", res.PrunedStates)
		if err != nil {
			return dryRunNotice(out, err, res.Total()+res.PrunedStates, "records and alert states")
		}
		fmt.Fprintf(out, "Deleted %d records and pruned %d alert states.\n", res.Total(), res.PrunedStates)
		return nil
	},
}

func printCounts(w io.Writer, counts map[models.Endpoint]int) {
	for _, e := range models.AllEndpoints() {
		if n, ok := counts[e]; ok {
			fmt.Fprintf(w, "  %-10s %d\n", e, n)
		}
	}
}

func init() {
	clearCacheCmd.Flags().StringVar(&clearEndpoint, "endpoint", "", "Clear only this endpoint")
	clearCacheCmd.Flags().BoolVar(&clearConfirm, "confirm", false, "Actually delete")
	clearAllCmd.Flags().BoolVar(&clearAllConfirm, "confirm", false, "Actually delete")

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 90, "Retention horizon in days")
	cleanupCmd.Flags().StringVar(&cleanupEndpoint, "endpoint", "", "Clean up only this endpoint")
	cleanupCmd.Flags().BoolVar(&cleanupConfirm, "confirm", false, "Actually delete")

	registerFlagCompletion(clearCacheCmd, "endpoint", completeEndpoints)
	registerFlagCompletion(cleanupCmd, "endpoint", completeEndpoints)
	rootCmd.AddCommand(clearCacheCmd, clearAllCmd, cleanupCmd)
}
