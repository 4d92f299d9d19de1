package models

import (
	"fmt"
	"time"
)

// Comparison selects which side of the threshold triggers an alert.
type Comparison string

const (
	ComparisonBelow Comparison = "below"
	ComparisonAbove Comparison = "above"
)

// AlertRule is a stateless threshold check on one metric.
type AlertRule struct {
	Endpoint   Endpoint   `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint" validate:"required,endpoint"`
	Metric     string     `yaml:"metric" mapstructure:"metric" json:"metric" validate:"required"`
	Threshold  float64    `yaml:"threshold" mapstructure:"threshold" json:"threshold"`
	Comparison Comparison `yaml:"comparison" mapstructure:"comparison" json:"comparison" validate:"required,oneof=below above"`
}

// MetricKey identifies the rule's metric in alert state.
func (r AlertRule) MetricKey() string {
	return MetricRef{Endpoint: r.Endpoint, Field: r.Metric}.Key()
}

// Crosses reports whether v is on the alerting side of the threshold.
// Values equal to the threshold never cross.
func (r AlertRule) Crosses(v float64) bool {
	switch r.Comparison {
	case ComparisonBelow:
		return v < r.Threshold
	case ComparisonAbove:
		return v > r.Threshold
	default:
		return false
	}
}

func (r AlertRule) String() string {
	op := "<"
	if r.Comparison == ComparisonAbove {
		op = ">"
	}
	return fmt.Sprintf("%s %s %g", r.MetricKey(), op, r.Threshold)
}

// AlertState records that a rule fired for a (metric, day) pair. Entries
// are only removed by an explicit clear or by retention cleanup.
type AlertState struct {
	Metric  string    `yaml:"metric" json:"metric"`
	Day     Day       `yaml:"day" json:"day"`
	Fired   bool      `yaml:"fired" json:"fired"`
	FiredAt time.Time `yaml:"fired_at" json:"fired_at"`
}

// Alert is the payload emitted when a rule transitions to fired.
type Alert struct {
	ID          string    `json:"id"`
	Rule        AlertRule `json:"rule"`
	Day         Day       `json:"day"`
	Value       float64   `json:"value"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}
