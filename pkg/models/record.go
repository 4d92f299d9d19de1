package models

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Endpoint identifies a provider collection whose records are cached.
type Endpoint string

const (
	EndpointSleep     Endpoint = "sleep"
	EndpointReadiness Endpoint = "readiness"
	EndpointActivity  Endpoint = "activity"
	EndpointHRV       Endpoint = "hrv"
)

// AllEndpoints returns every supported endpoint in display order.
func AllEndpoints() []Endpoint {
	return []Endpoint{EndpointSleep, EndpointReadiness, EndpointActivity, EndpointHRV}
}

// Valid reports whether e is a supported endpoint.
func (e Endpoint) Valid() bool {
	return slices.Contains(AllEndpoints(), e)
}

// ParseEndpoint converts a user-supplied name into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	e := Endpoint(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unknown endpoint %q (want one of sleep, readiness, activity, hrv)", s)
	}
	return e, nil
}

// MetricRecord is one day of numeric metrics for one endpoint. Identity is
// (Endpoint, Day); nested provider fields are flattened with dotted names,
// e.g. "contributors.hrv_balance".
type MetricRecord struct {
	Day      Day                `json:"day" yaml:"day"`
	Endpoint Endpoint           `json:"endpoint" yaml:"endpoint"`
	Fields   map[string]float64 `json:"fields" yaml:"fields"`
}

// Validate rejects records that cannot be stored: a missing day, an unknown
// endpoint, no numeric fields, or non-finite values.
func (r MetricRecord) Validate() error {
	if r.Day.IsZero() {
		return fmt.Errorf("%w: day is required", ErrInvalidRecord)
	}
	if !r.Endpoint.Valid() {
		return fmt.Errorf("%w: unknown endpoint %q", ErrInvalidRecord, r.Endpoint)
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("%w: %s/%s has no numeric fields", ErrInvalidRecord, r.Endpoint, r.Day)
	}
	for name, v := range r.Fields {
		if name == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidRecord)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: field %q is not finite", ErrInvalidRecord, name)
		}
	}
	return nil
}

// Value returns the named field and whether the record carries it.
func (r MetricRecord) Value(field string) (float64, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// Clone returns a deep copy of the record.
func (r MetricRecord) Clone() MetricRecord {
	fields := make(map[string]float64, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

// FieldNames returns the record's field names in ascending order.
func (r MetricRecord) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// RecordSet is an ordered run of records for a single endpoint, ascending by
// day. Analyzer functions never mutate a RecordSet.
type RecordSet []MetricRecord

// Clone returns a deep copy of the set.
func (s RecordSet) Clone() RecordSet {
	if s == nil {
		return nil
	}
	out := make(RecordSet, len(s))
	for i, r := range s {
		out[i] = r.Clone()
	}
	return out
}

// Sort orders the set ascending by day in place.
func (s RecordSet) Sort() {
	slices.SortStableFunc(s, func(a, b MetricRecord) int {
		return a.Day.Compare(b.Day)
	})
}

// Series extracts the (day, value) pairs of records that carry field.
func (s RecordSet) Series(field string) Series {
	var out Series
	for _, r := range s {
		if v, ok := r.Value(field); ok {
			out = append(out, DayValue{Day: r.Day, Value: v})
		}
	}
	return out
}

// ByDay indexes the set by day string.
func (s RecordSet) ByDay() map[string]MetricRecord {
	out := make(map[string]MetricRecord, len(s))
	for _, r := range s {
		out[r.Day.String()] = r
	}
	return out
}

// DayValue is a single observation of a metric.
type DayValue struct {
	Day   Day     `json:"day"`
	Value float64 `json:"value"`
}

// Series is a day-ordered sequence of observations of one metric.
type Series []DayValue

// Values returns only the numeric values of the series.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, dv := range s {
		out[i] = dv.Value
	}
	return out
}

// StoreStats describes the cached records of one endpoint. It is derived
// from the store on demand and never persisted.
type StoreStats struct {
	Endpoint   Endpoint `json:"endpoint"`
	Count      int      `json:"count"`
	TotalBytes int64    `json:"total_bytes"`
	MinDay     Day      `json:"min_day,omitzero"`
	MaxDay     Day      `json:"max_day,omitzero"`
}
