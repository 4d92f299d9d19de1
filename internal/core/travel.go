package core

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// BedtimeField holds the start of the main sleep period as Unix seconds.
const BedtimeField = "bedtime_start_epoch"

// DefaultTravelThresholdHours is the bedtime shift that flags a day as a
// likely travel day.
const DefaultTravelThresholdHours = 3.0

// minBedtimes is the fewest bedtimes that make a median meaningful.
const minBedtimes = 3

// LoadTimezone resolves an IANA zone name. Empty means the process's local
// zone.
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return loc, nil
}

// CanonicalDay is the calendar date of t as seen in loc.
func CanonicalDay(t time.Time, loc *time.Location) models.Day {
	return models.DayOf(t.In(locOrLocal(loc)))
}

// DetectTravelDays flags the days whose local bedtime sits more than
// thresholdHours from the median bedtime of the set. Distances wrap around
// midnight, so 23:30 and 00:30 are one hour apart. Fewer than three
// bedtimes yield nothing.
func DetectTravelDays(sleep models.RecordSet, loc *time.Location, thresholdHours float64) []models.Day {
	if thresholdHours <= 0 {
		thresholdHours = DefaultTravelThresholdHours
	}

	type bedtime struct {
		day  models.Day
		hour float64
	}
	var beds []bedtime
	for _, r := range sleep {
		epoch, ok := r.Value(BedtimeField)
		if !ok {
			continue
		}
		local := time.Unix(int64(epoch), 0).In(locOrLocal(loc))
		beds = append(beds, bedtime{
			day:  CanonicalDay(local, loc),
			hour: float64(local.Hour()) + float64(local.Minute())/60,
		})
	}
	if len(beds) < minBedtimes {
		return nil
	}

	hours := make([]float64, len(beds))
	for i, b := range beds {
		hours[i] = b.hour
	}
	slices.Sort(hours)
	median := hours[len(hours)/2]

	var out []models.Day
	for _, b := range beds {
		shift := math.Abs(b.hour - median)
		shift = math.Min(shift, 24-shift)
		if shift > thresholdHours && !slices.ContainsFunc(out, b.day.Equal) {
			out = append(out, b.day)
		}
	}
	return out
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
