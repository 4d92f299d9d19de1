package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	alertsDays   int
	alertsNotify bool
	alertsJSON   bool

	alertsClearMetric string
	alertsClearDay    string
	alertsClearAll    bool
)

func alertRules() []models.AlertRule {
	if Config != nil && Config.Alerts != nil {
		return Config.Alerts
	}
	return core.DefaultAlertRules()
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate alert rules against recent days",
	Long: `Evaluate the configured alert rules against the cached records of the
last N days. Each (metric, day) pair fires at most once; pairs that already
fired stay quiet until cleared with 'oura alerts clear'.

--notify sends the newly fired alerts as one message to the configured
Telegram chat or Slack webhook. A failed send is reported but the alerts
stay fired.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStore(); err != nil {
			return err
		}
		if Alerts == nil {
			return fmt.Errorf("alert engine not initialized")
		}
		ctx := ctxOf(cmd)
		rules := alertRules()

		start, end := lastDays(alertsDays)
		sets, err := readSets(ctx, refEndpoints(rulesAsRefs(rules)), start, end)
		if err != nil {
			return err
		}

		alerts, err := Alerts.EvaluateAll(ctx, rules, sets)
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		out := cmd.OutOrStdout()
		if alertsJSON {
			if alerts == nil {
				alerts = []models.Alert{}
			}
			if err := printJSON(out, alerts); err != nil {
				return err
			}
		} else if len(alerts) == 0 {
			fmt.Fprintln(out, "No new alerts.")
		} else {
			fmt.Fprintf(out, "%d new alert(s):\n\n", len(alerts))
			for _, a := range alerts {
				fmt.Fprintf(out, "  [%s] %s  %s\n", severityLabel(observability.Severity(a)), a.Day, a.Message)
			}
		}

		if alertsNotify && len(alerts) > 0 {
			if Notifier == nil {
				return fmt.Errorf("notifications are not configured (set notifications.enabled and a Telegram or Slack sink)")
			}
			if err := Alerts.Notify(ctx, Notifier, alerts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Sent %d alert(s).\n", len(alerts))
		}
		return nil
	},
}

func rulesAsRefs(rules []models.AlertRule) []models.MetricRef {
	refs := make([]models.MetricRef, len(rules))
	for i, r := range rules {
		refs[i] = models.MetricRef{Endpoint: r.Endpoint, Field: r.Metric}
	}
	return refs
}

var alertsStateCmd = &cobra.Command{
	Use:   "state",
	Short: "List fired alert state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Alerts == nil {
			return fmt.Errorf("alert engine not initialized")
		}
		states, err := Alerts.States(ctxOf(cmd))
		if err != nil {
			return fmt.Errorf("reading alert state: %w", err)
		}
		out := cmd.OutOrStdout()
		if alertsJSON {
			if states == nil {
				states = []models.AlertState{}
			}
			return printJSON(out, states)
		}
		if len(states) == 0 {
			fmt.Fprintln(out, "No fired alerts.")
			return nil
		}
		for _, s := range states {
			fmt.Fprintf(out, "  %s  %-32s fired %s\n", s.Day, s.Metric, s.FiredAt.UTC().Format("2006-01-02 15:04 UTC"))
		}
		return nil
	},
}

var alertsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset fired alert state so alerts can fire again",
	Long: `Reset fired alert state. Use --metric with --day for one pair, --metric
alone for every day of a metric, or --all for everything.

Examples:
  oura alerts clear --metric readiness.score --day 2026-01-05
  oura alerts clear --metric sleep.efficiency
  oura alerts clear --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Alerts == nil {
			return fmt.Errorf("alert engine not initialized")
		}
		ctx := ctxOf(cmd)

		var (
			n   int
			err error
		)
		switch {
		case alertsClearAll:
			if alertsClearMetric != "" || alertsClearDay != "" {
				return errors.New("--all cannot be combined with --metric or --day")
			}
			n, err = Alerts.ClearAll(ctx)
		case alertsClearMetric == "":
			return errors.New("specify --metric (optionally with --day) or --all")
		case alertsClearDay != "":
			day, perr := models.ParseDay(alertsClearDay)
			if perr != nil {
				return perr
			}
			n, err = Alerts.Clear(ctx, alertsClearMetric, day)
		default:
			n, err = Alerts.ClearMetric(ctx, alertsClearMetric)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d alert state(s).\n", n)
		return nil
	},
}

func init() {
	alertsCmd.PersistentFlags().BoolVar(&alertsJSON, "json", false, "Output as JSON")
	alertsCmd.Flags().IntVar(&alertsDays, "days", 7, "Number of days to evaluate")
	alertsCmd.Flags().BoolVar(&alertsNotify, "notify", false, "Send new alerts to the configured notifier")

	alertsClearCmd.Flags().StringVar(&alertsClearMetric, "metric", "", "Metric key, e.g. readiness.score")
	alertsClearCmd.Flags().StringVar(&alertsClearDay, "day", "", "Day to clear (YYYY-MM-DD); requires --metric")
	alertsClearCmd.Flags().BoolVar(&alertsClearAll, "all", false, "Clear every fired alert")

	registerFlagCompletion(alertsClearCmd, "metric", completeAlertMetrics)
	alertsCmd.AddCommand(alertsStateCmd, alertsClearCmd)
	rootCmd.AddCommand(alertsCmd)
}
