package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// ctxOf returns the command's context, or Background when the command is
// run directly rather than through Execute.
func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func requireStore() error {
	if Store == nil {
		return fmt.Errorf("record store not initialized")
	}
	return nil
}

// location is the configured analysis timezone, or nil when none is set.
func location() *time.Location {
	if Config == nil || Config.Analysis.Timezone == "" {
		return nil
	}
	loc, err := core.LoadTimezone(Config.Analysis.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// today is the current date in the configured timezone, or in the clock's
// own zone when none is set.
func today() models.Day {
	now := Clock()
	if loc := location(); loc != nil {
		return core.CanonicalDay(now, loc)
	}
	return models.DayOf(now)
}

// lastDays returns the inclusive range covering the last n days, today
// included.
func lastDays(n int) (start, end models.Day) {
	if n < 1 {
		n = 1
	}
	end = today()
	return end.AddDays(-(n - 1)), end
}

// endpointFlag parses an optional --endpoint value; empty means all.
func endpointFlag(s string) (*models.Endpoint, error) {
	if s == "" {
		return nil, nil
	}
	e, err := models.ParseEndpoint(s)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func endpointsOf(e *models.Endpoint) []models.Endpoint {
	if e == nil {
		return models.AllEndpoints()
	}
	return []models.Endpoint{*e}
}

// readSets reads [start, end] for each endpoint from the cache.
func readSets(ctx context.Context, endpoints []models.Endpoint, start, end models.Day) (map[models.Endpoint]models.RecordSet, error) {
	sets := make(map[models.Endpoint]models.RecordSet, len(endpoints))
	for _, e := range endpoints {
		set, err := Store.ReadRange(ctx, e, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e, err)
		}
		sets[e] = set
	}
	return sets, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// dryRunNotice prints what an unconfirmed destructive command would have
// done. The error is passed through so the command still fails.
func dryRunNotice(w io.Writer, err error, total int, what string) error {
	if errors.Is(err, models.ErrDestructiveOpUnconfirmed) {
		fmt.Fprintf(w, "Dry run: would delete %d %s. Re-run with --confirm to proceed.\n", total, what)
	}
	return err
}
