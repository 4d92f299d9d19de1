package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	eventType  string
	eventDay   string
	eventLevel string

	eventListType string
	eventListDays int
	eventListJSON bool
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Record and list life events next to the metrics",
	Long: `Record free-form life events (late coffee, travel, illness) in the event
log so they can be read next to the metrics. Sync, alert and cleanup runs
log their own events here too.`,
}

var eventAddCmd = &cobra.Command{
	Use:   "add <message>",
	Short: "Record an event",
	Long: `Record an event for today, or for --day.

Examples:
  oura event add "late coffee"
  oura event add "flight to Lisbon" --type travel --day 2026-01-04`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if EventLog == nil {
			return fmt.Errorf("event log not initialized")
		}
		day := today()
		if eventDay != "" {
			d, err := models.ParseDay(eventDay)
			if err != nil {
				return err
			}
			day = d
		}
		ev := observability.Event{
			Time:    Clock().UTC(),
			Day:     day,
			Level:   strings.ToUpper(eventLevel),
			Type:    eventType,
			Message: strings.Join(args, " "),
		}
		if err := EventLog.Write(ev); err != nil {
			return fmt.Errorf("recording event: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s event for %s.\n", ev.Type, ev.Day)
		return nil
	},
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if EventLog == nil {
			return fmt.Errorf("event log not initialized")
		}
		start, _ := lastDays(eventListDays)
		since := start.Time()
		events, err := EventLog.Read(observability.EventFilter{Since: &since, Type: eventListType})
		if err != nil {
			return fmt.Errorf("reading events: %w", err)
		}
		out := cmd.OutOrStdout()
		if eventListJSON {
			if events == nil {
				events = []observability.Event{}
			}
			return printJSON(out, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No events.")
			return nil
		}
		for _, ev := range events {
			fmt.Fprintf(out, "  %s  %-5s %-18s %s\n", ev.Day, ev.Level, ev.Type, ev.Message)
		}
		return nil
	},
}

func init() {
	eventAddCmd.Flags().StringVar(&eventType, "type", observability.EventNote, "Event type")
	eventAddCmd.Flags().StringVar(&eventDay, "day", "", "Day the event belongs to (YYYY-MM-DD, default today)")
	eventAddCmd.Flags().StringVar(&eventLevel, "level", "INFO", "Event level")

	eventListCmd.Flags().StringVar(&eventListType, "type", "", "Only events of this type")
	eventListCmd.Flags().IntVar(&eventListDays, "days", 30, "Number of days to list")
	eventListCmd.Flags().BoolVar(&eventListJSON, "json", false, "Output as JSON")

	eventCmd.AddCommand(eventAddCmd, eventListCmd)
	rootCmd.AddCommand(eventCmd)
}
