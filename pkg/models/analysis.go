package models

import (
	"fmt"
	"strings"
)

// Direction classifies a trend delta.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// TrendResult is the trailing moving average of one metric and the
// direction of its most recent value relative to that average.
type TrendResult struct {
	Metric        string    `json:"metric"`
	WindowDays    int       `json:"window_days"`
	Values        Series    `json:"values"`
	MovingAverage []float64 `json:"moving_average"`
	Delta         float64   `json:"delta"`
	Direction     Direction `json:"direction"`
}

// Last returns the most recent observation of the trend.
func (t TrendResult) Last() (DayValue, bool) {
	if len(t.Values) == 0 {
		return DayValue{}, false
	}
	return t.Values[len(t.Values)-1], true
}

// AnomalyFlag marks a value that sits too many standard deviations away
// from its trailing baseline.
type AnomalyFlag struct {
	Day            Day     `json:"day"`
	Metric         string  `json:"metric"`
	Value          float64 `json:"value"`
	Baseline       float64 `json:"baseline"`
	DeviationSigma float64 `json:"deviation_sigma"`
}

// MetricRef names a field of an endpoint, e.g. readiness.score.
type MetricRef struct {
	Endpoint Endpoint `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint" validate:"required,endpoint"`
	Field    string   `yaml:"field" mapstructure:"field" json:"field" validate:"required"`
}

// Key returns the "<endpoint>.<field>" form used in summaries and alert state.
func (m MetricRef) Key() string {
	return string(m.Endpoint) + "." + m.Field
}

// ParseMetricRef parses "<endpoint>.<field>", e.g. "sleep.efficiency" or
// "readiness.contributors.hrv_balance".
func ParseMetricRef(s string) (MetricRef, error) {
	ep, field, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || field == "" {
		return MetricRef{}, fmt.Errorf("invalid metric %q (want <endpoint>.<field>)", s)
	}
	e, err := ParseEndpoint(ep)
	if err != nil {
		return MetricRef{}, err
	}
	return MetricRef{Endpoint: e, Field: field}, nil
}

// MetricSummary is the aggregate of one configured metric.
type MetricSummary struct {
	Metric   string       `json:"metric"`
	Average  *float64     `json:"average"`
	Trend    *TrendResult `json:"trend,omitempty"`
	BestDay  Day          `json:"best_day,omitzero"`
	WorstDay Day          `json:"worst_day,omitzero"`
	Samples  int          `json:"samples"`
}

// Summary aggregates all configured metrics across endpoints.
type Summary struct {
	Start       Day                      `json:"start,omitzero"`
	End         Day                      `json:"end,omitzero"`
	DaysTracked map[Endpoint]int         `json:"days_tracked"`
	Metrics     map[string]MetricSummary `json:"metrics"`
}
