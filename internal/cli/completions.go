package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// completeEndpoints completes endpoint names.
func completeEndpoints(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"sleep\tSleep periods merged with the daily sleep score",
		"readiness\tDaily readiness",
		"activity\tDaily activity",
		"hrv\tHeart rate variability of the main sleep",
	}, cobra.ShellCompDirectiveNoFileComp
}

// completeFormats completes export formats.
func completeFormats(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"json\tOne JSON document",
		"archive\ttar.gz with one file per endpoint",
		"tabular\tCSV",
		"line\tInfluxDB line protocol",
	}, cobra.ShellCompDirectiveNoFileComp
}

// metricKeys lists "<endpoint>.<field>" keys: the configured summary
// metrics plus every field of the newest cached record of each endpoint.
func metricKeys(ctx context.Context) []string {
	var keys []string
	add := func(k string) {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	refs := core.DefaultSummaryMetrics()
	if Analyzer != nil {
		refs = Analyzer.Config().Metrics
	}
	for _, ref := range refs {
		add(ref.Key())
	}

	if Store != nil {
		for _, e := range models.AllEndpoints() {
			st, err := Store.Stats(ctx, e)
			if err != nil || st.Count == 0 {
				continue
			}
			set, err := Store.ReadRange(ctx, e, st.MaxDay, st.MaxDay)
			if err != nil || len(set) == 0 {
				continue
			}
			for _, f := range set[0].FieldNames() {
				add(models.MetricRef{Endpoint: e, Field: f}.Key())
			}
		}
	}
	slices.Sort(keys)
	return keys
}

// completeMetricRefs completes metric arguments of the analysis commands.
// maxArgs bounds how many metrics the command takes; 0 means no bound.
func completeMetricRefs(maxArgs int) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if maxArgs > 0 && len(args) >= maxArgs {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []string
		for _, k := range metricKeys(ctxOf(cmd)) {
			if strings.HasPrefix(k, toComplete) && !slices.Contains(args, k) {
				out = append(out, k)
			}
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeAlertMetrics completes metric keys that have fired alert state.
func completeAlertMetrics(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Alerts == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	states, err := Alerts.States(ctxOf(cmd))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, s := range states {
		if strings.HasPrefix(s.Metric, toComplete) && !slices.Contains(out, s.Metric) {
			out = append(out, s.Metric)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// registerFlagCompletion attaches fn to a flag of cmd. It runs in the init
// that defines the flag, so a missing flag is a programming error.
func registerFlagCompletion(cmd *cobra.Command, flag string, fn cobra.CompletionFunc) {
	if err := cmd.RegisterFlagCompletionFunc(flag, fn); err != nil {
		panic(fmt.Sprintf("%s --%s: %v", cmd.Name(), flag, err))
	}
}
