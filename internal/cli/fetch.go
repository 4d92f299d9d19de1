package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	fetchDays     int
	fetchEndpoint string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch recent days from the Oura API into the local cache",
	Long: `Fetch the last N days (today included) for every endpoint, or one
endpoint with --endpoint, and upsert them into the cache.

Records are keyed by (endpoint, day), so re-fetching a day replaces it. A
failing endpoint is reported and its cached data stays in place.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Syncer == nil {
			if SyncerErr != nil {
				return fmt.Errorf("fetch unavailable: %w", SyncerErr)
			}
			return fmt.Errorf("syncer not initialized")
		}
		ep, err := endpointFlag(fetchEndpoint)
		if err != nil {
			return err
		}

		start, end := lastDays(fetchDays)
		report, err := Syncer.Sync(ctxOf(cmd), endpointsOf(ep), start, end)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Fetched %s to %s\n", start, end)
		for _, res := range report.Results {
			if res.FetchErr != nil {
				fmt.Fprintf(out, "  %-10s failed: %v (cached data kept)\n", res.Endpoint, res.FetchErr)
				continue
			}
			fmt.Fprintf(out, "  %-10s %d stored", res.Endpoint, res.Stored)
			if res.Skipped > 0 {
				fmt.Fprintf(out, ", %d skipped", res.Skipped)
			}
			fmt.Fprintln(out)
		}
		if err != nil {
			return fmt.Errorf("fetching: %w", err)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().IntVar(&fetchDays, "days", 7, "Number of days to fetch, today included")
	fetchCmd.Flags().StringVar(&fetchEndpoint, "endpoint", "", "Fetch only this endpoint (sleep, readiness, activity, hrv)")
	registerFlagCompletion(fetchCmd, "endpoint", completeEndpoints)
	rootCmd.AddCommand(fetchCmd)
}
