package models

// StressLevel bands a 0-100 stress score.
type StressLevel string

const (
	StressLow      StressLevel = "LOW"
	StressModerate StressLevel = "MODERATE"
	StressHigh     StressLevel = "HIGH"
	StressUnknown  StressLevel = "UNKNOWN"
)

// StressSource tells where a day's stress score came from.
type StressSource string

const (
	// StressSourceDirect is a score or status label reported by the ring.
	StressSourceDirect StressSource = "direct"
	// StressSourceDerived is a proxy computed from recovery signals.
	StressSourceDerived StressSource = "derived"
	// StressSourceUnavailable means neither was possible.
	StressSourceUnavailable StressSource = "unavailable"
)

// StressDay is the stress estimate of one day.
type StressDay struct {
	Day        Day          `json:"day"`
	Score      *float64     `json:"score"`
	Status     StressLevel  `json:"status"`
	Source     StressSource `json:"source"`
	Components []string     `json:"components,omitempty"`
	Label      string       `json:"label"`
}

// Derived reports whether the score is a proxy.
func (d StressDay) Derived() bool { return d.Source == StressSourceDerived }

// StressSummary aggregates the stress days of a period. Days holds only the
// days that produced a score.
type StressSummary struct {
	Start          Day         `json:"start,omitzero"`
	End            Day         `json:"end,omitzero"`
	Average        *float64    `json:"avg"`
	Status         StressLevel `json:"status"`
	BestDay        Day         `json:"best_day,omitzero"`
	WorstDay       Day         `json:"worst_day,omitzero"`
	Trend          *float64    `json:"trend"`
	TrendDirection Direction   `json:"trend_direction,omitempty"`
	DaysTracked    int         `json:"days_tracked"`
	DerivedDays    int         `json:"derived_days"`
	DirectDays     int         `json:"direct_days"`
	Days           []StressDay `json:"days"`
	TravelDays     []Day       `json:"travel_days,omitempty"`
}
