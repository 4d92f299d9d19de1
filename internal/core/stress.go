package core

import (
	"math"
	"strings"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// directStressFields are the record fields that may carry a reported stress
// score, checked in order.
var directStressFields = []string{"stress_score", "stress", "average_stress", "average_stress_level", "stress_level"}

// stressLabelScores maps reported stress status labels to a score.
var stressLabelScores = map[string]float64{
	"restored":     25,
	"relaxed":      30,
	"normal":       50,
	"engaged":      60,
	"stressed":     75,
	"high_stress":  85,
	"overstressed": 90,
}

// recoveryContributors are readiness contributors where a high value means
// good recovery. Each is inverted into a stress component.
var recoveryContributors = []string{"hrv_balance", "resting_heart_rate", "recovery_index", "sleep_balance", "previous_night"}

// StressStatusFields are the text fields of a provider document that may
// hold a stress status label.
var StressStatusFields = []string{"day_summary", "status", "stress_status"}

// StressLabelScore returns the score of a stress status label such as
// "restored" or "stressed". Matching ignores case and surrounding space.
func StressLabelScore(label string) (float64, bool) {
	v, ok := stressLabelScores[strings.ToLower(strings.TrimSpace(label))]
	return v, ok
}

// StressBaseline holds the personal references the proxy score compares
// against.
type StressBaseline struct {
	HRV       float64
	RestingHR float64
}

// DefaultStressBaseline is used when no sleep data carries the signals.
func DefaultStressBaseline() StressBaseline {
	return StressBaseline{HRV: 40, RestingHR: 60}
}

// StressBaselineOf averages average_hrv and lowest_heart_rate over sleep
// records. Missing signals keep their default.
func StressBaselineOf(sleep models.RecordSet) StressBaseline {
	base := DefaultStressBaseline()
	if v, ok := mean(sleep.Series("average_hrv").Values()); ok {
		base.HRV = v
	}
	if v, ok := mean(sleep.Series("lowest_heart_rate").Values()); ok {
		base.RestingHR = v
	}
	return base
}

// DirectStressScore returns the first reported stress score found in the
// records, clamped to [0, 100].
func DirectStressScore(records ...models.MetricRecord) (float64, bool) {
	for _, r := range records {
		for _, f := range directStressFields {
			if v, ok := r.Value(f); ok && !math.IsNaN(v) {
				return clampScore(v), true
			}
		}
	}
	return 0, false
}

// ProxyStressScore derives a stress score from recovery signals: HRV below
// baseline, resting heart rate above baseline, inverted readiness
// contributors and inverted sleep efficiency. Components names the signals
// that contributed. ok is false when none were present.
func ProxyStressScore(sleep, readiness models.MetricRecord, base StressBaseline) (score float64, components []string, ok bool) {
	var parts []float64
	add := func(name string, v float64) {
		parts = append(parts, clamp(v, 0, 100))
		components = append(components, name)
	}

	if hrv, ok := sleep.Value("average_hrv"); ok && base.HRV > 0 {
		add("hrv", 50+(base.HRV-hrv)/base.HRV*50)
	}
	if rhr, ok := sleep.Value("lowest_heart_rate"); ok && base.RestingHR > 0 {
		add("resting_hr", 50+(rhr-base.RestingHR)/base.RestingHR*50)
	}
	for _, key := range recoveryContributors {
		v, ok := readiness.Value("contributors." + key)
		if !ok {
			v, ok = readiness.Value(key)
		}
		if ok {
			add(key, 100-clampScore(v))
		}
	}
	if eff, ok := sleep.Value("efficiency"); ok {
		add("sleep_efficiency", 100-clampScore(eff))
	}

	avg, ok := mean(parts)
	if !ok {
		return 0, nil, false
	}
	return round1(avg), components, true
}

// StressLevelOf bands a score: up to 40 is low, up to 65 moderate, above
// that high.
func StressLevelOf(score float64) models.StressLevel {
	switch {
	case score <= 40:
		return models.StressLow
	case score <= 65:
		return models.StressModerate
	default:
		return models.StressHigh
	}
}

// stressTrendDirection treats changes within two points as flat.
func stressTrendDirection(delta float64) models.Direction {
	switch {
	case delta > 2:
		return models.DirectionUp
	case delta < -2:
		return models.DirectionDown
	default:
		return models.DirectionFlat
	}
}

// BuildStressDay estimates the stress of one day. A reported score wins
// over the proxy.
func BuildStressDay(day models.Day, sleep, readiness models.MetricRecord, base StressBaseline) models.StressDay {
	if score, ok := DirectStressScore(readiness, sleep); ok {
		return models.StressDay{
			Day:    day,
			Score:  &score,
			Status: StressLevelOf(score),
			Source: models.StressSourceDirect,
			Label:  "direct stress",
		}
	}
	score, components, ok := ProxyStressScore(sleep, readiness, base)
	if !ok {
		return models.StressDay{
			Day:    day,
			Status: models.StressUnknown,
			Source: models.StressSourceUnavailable,
			Label:  "insufficient signals",
		}
	}
	return models.StressDay{
		Day:        day,
		Score:      &score,
		Status:     StressLevelOf(score),
		Source:     models.StressSourceDerived,
		Components: components,
		Label:      "derived from HRV/RHR/readiness contributors",
	}
}

// SummarizeStress builds one stress day per sleep record and aggregates
// those with a score. The trend is the mean of the later half minus the
// mean of the earlier half. The best day has the lowest score.
func SummarizeStress(sleep, readiness models.RecordSet) models.StressSummary {
	sleep = sleep.Clone()
	sleep.Sort()
	base := StressBaselineOf(sleep)
	readinessByDay := readiness.ByDay()

	var days []models.StressDay
	for _, r := range sleep {
		sd := BuildStressDay(r.Day, r, readinessByDay[r.Day.String()], base)
		if sd.Score != nil {
			days = append(days, sd)
		}
	}

	summary := models.StressSummary{Status: models.StressUnknown, Days: days}
	if len(days) == 0 {
		return summary
	}

	scores := make([]float64, len(days))
	best, worst := 0, 0
	for i, d := range days {
		scores[i] = *d.Score
		if scores[i] < scores[best] {
			best = i
		}
		if scores[i] > scores[worst] {
			worst = i
		}
		switch d.Source {
		case models.StressSourceDirect:
			summary.DirectDays++
		case models.StressSourceDerived:
			summary.DerivedDays++
		}
	}

	avgRaw, _ := mean(scores)
	avg := round1(avgRaw)
	trend := 0.0
	if half := len(scores) / 2; half >= 1 {
		first, _ := mean(scores[:half])
		second, _ := mean(scores[half:])
		trend = round1(second - first)
	}

	summary.Average = &avg
	summary.Status = StressLevelOf(avg)
	summary.Trend = &trend
	summary.TrendDirection = stressTrendDirection(trend)
	summary.BestDay = days[best].Day
	summary.WorstDay = days[worst].Day
	summary.DaysTracked = len(days)
	return summary
}

func clampScore(v float64) float64 {
	return round1(clamp(v, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
