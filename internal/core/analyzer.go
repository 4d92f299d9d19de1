package core

import (
	"iter"
	"math"
	"sort"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// AnalyzerConfig holds the tunable parameters of the Analyzer.
type AnalyzerConfig struct {
	// WindowDays is the trailing window, counted in records, used by Trend
	// and DetectAnomalies when the caller passes no window.
	WindowDays int
	// SigmaThreshold is how many standard deviations away from the
	// trailing mean a value must be to be flagged.
	SigmaThreshold float64
	// MinSamples is the fewest trailing points an anomaly check needs.
	MinSamples int
	// FlatEpsilon is the trend delta below which a trend is flat.
	FlatEpsilon float64
	// Metrics are summarized by Summary.
	Metrics []models.MetricRef
}

// DefaultAnalyzerConfig returns window 7, sigma 2, three samples and a
// flat band of 1.0 over the default summary metrics.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		WindowDays:     7,
		SigmaThreshold: 2,
		MinSamples:     3,
		FlatEpsilon:    1.0,
		Metrics:        DefaultSummaryMetrics(),
	}
}

// AnalyzerConfigFrom converts the analysis section of the configuration.
func AnalyzerConfigFrom(c models.AnalysisConfig) AnalyzerConfig {
	return AnalyzerConfig{
		WindowDays:     c.WindowDays,
		SigmaThreshold: c.SigmaThreshold,
		MinSamples:     c.MinSamples,
		FlatEpsilon:    c.FlatEpsilon,
		Metrics:        c.Metrics,
	}
}

// Analyzer derives aggregates from record sets. It holds only its
// configuration, so every result depends solely on its inputs.
type Analyzer struct {
	cfg AnalyzerConfig
}

// NewAnalyzer creates an Analyzer. Zero-valued parameters take their
// defaults; a negative FlatEpsilon is treated as zero.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	def := DefaultAnalyzerConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = def.SigmaThreshold
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.FlatEpsilon < 0 {
		cfg.FlatEpsilon = 0
	}
	if cfg.Metrics == nil {
		cfg.Metrics = def.Metrics
	}
	return &Analyzer{cfg: cfg}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() AnalyzerConfig {
	return a.cfg
}

// AverageMetric returns the mean of field over the records that carry it.
// It reports false when no record does.
func (a *Analyzer) AverageMetric(set models.RecordSet, field string) (float64, bool) {
	return mean(set.Series(field).Values())
}

// Trend computes the trailing moving average of field. The window holds up
// to window records ending at each point and shrinks at the start of the
// series. A window <= 0 uses the configured WindowDays. It reports false
// when no record carries field.
func (a *Analyzer) Trend(set models.RecordSet, field string, window int) (models.TrendResult, bool) {
	if window <= 0 {
		window = a.cfg.WindowDays
	}
	series := set.Series(field)
	if len(series) == 0 {
		return models.TrendResult{}, false
	}

	values := series.Values()
	ma := make([]float64, len(values))
	for i := range values {
		lo := max(0, i-window+1)
		ma[i], _ = mean(values[lo : i+1])
	}

	last := len(values) - 1
	delta := values[last] - ma[last]
	return models.TrendResult{
		Metric:        field,
		WindowDays:    window,
		Values:        series,
		MovingAverage: ma,
		Delta:         delta,
		Direction:     a.direction(delta),
	}, true
}

func (a *Analyzer) direction(delta float64) models.Direction {
	switch {
	case math.Abs(delta) < a.cfg.FlatEpsilon:
		return models.DirectionFlat
	case delta > 0:
		return models.DirectionUp
	default:
		return models.DirectionDown
	}
}

// Correlate returns the Pearson correlation of two series over the days
// present in both. It reports false for fewer than two shared days or when
// either side has zero variance.
func (a *Analyzer) Correlate(x, y models.Series) (float64, bool) {
	return Correlate(x, y)
}

// Correlate is the configuration-free form of Analyzer.Correlate.
func Correlate(x, y models.Series) (float64, bool) {
	byDay := make(map[string]float64, len(y))
	for _, dv := range y {
		byDay[dv.Day.String()] = dv.Value
	}
	var xs, ys []float64
	for _, dv := range x {
		if v, ok := byDay[dv.Day.String()]; ok {
			xs = append(xs, dv.Value)
			ys = append(ys, v)
		}
	}
	if len(xs) < 2 {
		return 0, false
	}

	mx, _ := mean(xs)
	my, _ := mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r)), true
}

// DetectAnomalies yields a flag for each value of field that lies more than
// sigma sample standard deviations from the mean of the preceding window
// values. The current point is excluded from its own baseline. Points with
// fewer than MinSamples predecessors, or whose window has zero spread, are
// not evaluated. Non-positive window or sigma use the configured values.
// The sequence is computed afresh on every iteration.
func (a *Analyzer) DetectAnomalies(set models.RecordSet, field string, window int, sigma float64) iter.Seq[models.AnomalyFlag] {
	if window <= 0 {
		window = a.cfg.WindowDays
	}
	if sigma <= 0 {
		sigma = a.cfg.SigmaThreshold
	}
	minSamples := a.cfg.MinSamples

	return func(yield func(models.AnomalyFlag) bool) {
		series := set.Series(field)
		values := series.Values()
		for i := range values {
			trailing := values[max(0, i-window):i]
			if len(trailing) < minSamples {
				continue
			}
			m, sd, ok := meanStdDev(trailing)
			if !ok || sd == 0 {
				continue
			}
			dev := (values[i] - m) / sd
			if math.Abs(dev) <= sigma {
				continue
			}
			flag := models.AnomalyFlag{
				Day:            series[i].Day,
				Metric:         field,
				Value:          values[i],
				Baseline:       m,
				DeviationSigma: dev,
			}
			if !yield(flag) {
				return
			}
		}
	}
}

// BestWorstDay returns the days with the highest and lowest value of field.
// Ties go to the earliest day.
func (a *Analyzer) BestWorstDay(set models.RecordSet, field string) (best, worst models.Day, ok bool) {
	series := set.Series(field)
	if len(series) == 0 {
		return models.Day{}, models.Day{}, false
	}
	hi, lo := series[0], series[0]
	for _, dv := range series[1:] {
		if dv.Value > hi.Value {
			hi = dv
		}
		if dv.Value < lo.Value {
			lo = dv
		}
	}
	return hi.Day, lo.Day, true
}

// Summary aggregates every configured metric: its average, trend, best and
// worst day, plus the number of days tracked per endpoint.
func (a *Analyzer) Summary(sets map[models.Endpoint]models.RecordSet) models.Summary {
	sum := models.Summary{
		DaysTracked: make(map[models.Endpoint]int, len(sets)),
		Metrics:     make(map[string]models.MetricSummary, len(a.cfg.Metrics)),
	}

	for e, set := range sets {
		sum.DaysTracked[e] = len(set)
		for _, r := range set {
			if sum.Start.IsZero() || r.Day.Before(sum.Start) {
				sum.Start = r.Day
			}
			if sum.End.IsZero() || r.Day.After(sum.End) {
				sum.End = r.Day
			}
		}
	}

	for _, ref := range a.cfg.Metrics {
		set := sets[ref.Endpoint]
		ms := models.MetricSummary{
			Metric:  ref.Key(),
			Samples: len(set.Series(ref.Field)),
		}
		if avg, ok := a.AverageMetric(set, ref.Field); ok {
			ms.Average = &avg
		}
		if tr, ok := a.Trend(set, ref.Field, 0); ok {
			tr.Metric = ref.Key()
			ms.Trend = &tr
		}
		if best, worst, ok := a.BestWorstDay(set, ref.Field); ok {
			ms.BestDay, ms.WorstDay = best, worst
		}
		sum.Metrics[ref.Key()] = ms
	}
	return sum
}

// Compare returns current minus previous average for every metric in
// either summary. The entry is nil when either side has no average.
func (a *Analyzer) Compare(current, previous models.Summary) map[string]*float64 {
	keys := make(map[string]struct{})
	for k := range current.Metrics {
		keys[k] = struct{}{}
	}
	for k := range previous.Metrics {
		keys[k] = struct{}{}
	}

	diff := make(map[string]*float64, len(keys))
	for k := range keys {
		cur, prev := current.Metrics[k].Average, previous.Metrics[k].Average
		if cur == nil || prev == nil {
			diff[k] = nil
			continue
		}
		d := *cur - *prev
		diff[k] = &d
	}
	return diff
}

// SortedMetricKeys returns the metric keys of a summary in ascending order.
func SortedMetricKeys(s models.Summary) []string {
	keys := make([]string, 0, len(s.Metrics))
	for k := range s.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeriveSleepFields adds total_sleep_hours and approx_sleep_score to a sleep
// record that carries total_sleep_duration (seconds) and efficiency. The
// score weighs efficiency 0.6 and duration 0.4, with eight hours counting
// as 100. Other records are returned unchanged.
func DeriveSleepFields(r models.MetricRecord) models.MetricRecord {
	if r.Endpoint != models.EndpointSleep {
		return r
	}
	dur, ok := r.Value("total_sleep_duration")
	if !ok || dur <= 0 {
		return r
	}
	out := r.Clone()
	hours := dur / 3600
	out.Fields["total_sleep_hours"] = round1(hours)

	if eff, ok := r.Value("efficiency"); ok {
		effScore := math.Min(eff, 100)
		durScore := math.Min(hours/8*100, 100)
		out.Fields["approx_sleep_score"] = round1(effScore*0.6 + durScore*0.4)
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// meanStdDev returns the mean and the Bessel-corrected standard deviation.
func meanStdDev(values []float64) (float64, float64, bool) {
	if len(values) < 2 {
		return 0, 0, false
	}
	m, _ := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return m, math.Sqrt(ss / float64(len(values)-1)), true
}
