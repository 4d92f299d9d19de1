package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2026-01-05", "2026-01-05", false},
		{"2026-01-05T23:30:00-08:00", "2026-01-05", false},
		{"2026-02-30", "", true},
		{"05/01/2026", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseDay(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDay_Arithmetic(t *testing.T) {
	d := MustParseDay("2026-03-28")

	if got := d.AddDays(5).String(); got != "2026-04-02" {
		t.Errorf("AddDays(5) = %s", got)
	}
	if got := d.DaysUntil(MustParseDay("2026-04-02")); got != 5 {
		t.Errorf("DaysUntil = %d, want 5", got)
	}
	if !d.Within(d, d) {
		t.Error("a day lies within its own range")
	}
	if d.Within(d.AddDays(1), d.AddDays(3)) {
		t.Error("day before the range reported within")
	}
	if got := DayOf(time.Date(2026, 3, 28, 23, 59, 0, 0, time.FixedZone("X", -5*3600))).String(); got != "2026-03-28" {
		t.Errorf("DayOf keeps the local calendar date, got %s", got)
	}
}

func TestDay_JSON(t *testing.T) {
	var v struct {
		Day Day `json:"day"`
	}
	if err := json.Unmarshal([]byte(`{"day":"2026-01-05"}`), &v); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"day":"2026-01-05"}` {
		t.Errorf("got %s", out)
	}
}

func TestParseEndpoint(t *testing.T) {
	for _, in := range []string{"sleep", "Readiness", " activity ", "hrv"} {
		if _, err := ParseEndpoint(in); err != nil {
			t.Errorf("ParseEndpoint(%q): %v", in, err)
		}
	}
	for _, in := range []string{"", "steps", "heart_rate"} {
		if _, err := ParseEndpoint(in); err == nil {
			t.Errorf("ParseEndpoint(%q): expected error", in)
		}
	}
}

func TestParseMetricRef(t *testing.T) {
	ref, err := ParseMetricRef("readiness.contributors.hrv_balance")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Endpoint != EndpointReadiness || ref.Field != "contributors.hrv_balance" {
		t.Errorf("got %+v", ref)
	}
	if ref.Key() != "readiness.contributors.hrv_balance" {
		t.Errorf("Key() = %q", ref.Key())
	}

	for _, in := range []string{"readiness", "readiness.", "steps.total", ".score"} {
		if _, err := ParseMetricRef(in); err == nil {
			t.Errorf("ParseMetricRef(%q): expected error", in)
		}
	}
}

func TestMetricRecord_Validate(t *testing.T) {
	day := MustParseDay("2026-01-05")
	tests := []struct {
		name string
		rec  MetricRecord
		ok   bool
	}{
		{"valid", MetricRecord{Day: day, Endpoint: EndpointSleep, Fields: map[string]float64{"score": 80}}, true},
		{"no day", MetricRecord{Endpoint: EndpointSleep, Fields: map[string]float64{"score": 80}}, false},
		{"bad endpoint", MetricRecord{Day: day, Endpoint: "steps", Fields: map[string]float64{"score": 80}}, false},
		{"no fields", MetricRecord{Day: day, Endpoint: EndpointSleep}, false},
		{"empty name", MetricRecord{Day: day, Endpoint: EndpointSleep, Fields: map[string]float64{"": 1}}, false},
		{"NaN", MetricRecord{Day: day, Endpoint: EndpointSleep, Fields: map[string]float64{"score": math.NaN()}}, false},
		{"Inf", MetricRecord{Day: day, Endpoint: EndpointSleep, Fields: map[string]float64{"score": math.Inf(1)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestRecordSet_SeriesSkipsMissing(t *testing.T) {
	set := RecordSet{
		{Day: MustParseDay("2026-01-03"), Fields: map[string]float64{"score": 70}},
		{Day: MustParseDay("2026-01-01"), Fields: map[string]float64{"score": 60}},
		{Day: MustParseDay("2026-01-02"), Fields: map[string]float64{"steps": 9000}},
	}
	set.Sort()

	s := set.Series("score")
	if len(s) != 2 || s[0].Day.String() != "2026-01-01" || s[1].Value != 70 {
		t.Errorf("unexpected series %+v", s)
	}

	clone := set.Clone()
	clone[0].Fields["score"] = 0
	if set[0].Fields["score"] != 60 {
		t.Error("Clone shares field maps")
	}
}

func TestAlertRule_Crosses(t *testing.T) {
	below := AlertRule{Endpoint: EndpointReadiness, Metric: "score", Threshold: 60, Comparison: ComparisonBelow}
	above := AlertRule{Endpoint: EndpointActivity, Metric: "steps", Threshold: 20000, Comparison: ComparisonAbove}

	tests := []struct {
		rule AlertRule
		v    float64
		want bool
	}{
		{below, 59.9, true},
		{below, 60, false},
		{below, 61, false},
		{above, 20001, true},
		{above, 20000, false},
		{AlertRule{Threshold: 1, Comparison: "equal"}, 1, false},
	}
	for _, tt := range tests {
		if got := tt.rule.Crosses(tt.v); got != tt.want {
			t.Errorf("%s Crosses(%v) = %v, want %v", tt.rule, tt.v, got, tt.want)
		}
	}
	if below.String() != "readiness.score < 60" {
		t.Errorf("String() = %q", below.String())
	}
}
