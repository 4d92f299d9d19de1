package observability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// Metrics holds the process counters for the cache, alert and sync paths.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recordsUpserted     *prometheus.CounterVec
	recordsDeleted      *prometheus.CounterVec
	corruptRecords      *prometheus.CounterVec
	fetchErrors         *prometheus.CounterVec
	alertsFired         *prometheus.CounterVec
	notificationsFailed prometheus.Counter
}

// NewMetrics creates the counters on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		recordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oura",
			Name:      "records_upserted_total",
			Help:      "Records written to the cache.",
		}, []string{"endpoint"}),
		recordsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oura",
			Name:      "records_deleted_total",
			Help:      "Records removed by cleanup or clear.",
		}, []string{"endpoint"}),
		corruptRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oura",
			Name:      "corrupt_records_total",
			Help:      "Stored records skipped because they could not be decoded.",
		}, []string{"endpoint"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oura",
			Name:      "fetch_errors_total",
			Help:      "Remote fetches that returned an error.",
		}, []string{"endpoint"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oura",
			Name:      "alerts_fired_total",
			Help:      "Alert rules that transitioned to fired.",
		}, []string{"metric"}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oura",
			Name:      "notifications_failed_total",
			Help:      "Notification sends that failed.",
		}),
	}
	reg.MustRegister(
		m.recordsUpserted,
		m.recordsDeleted,
		m.corruptRecords,
		m.fetchErrors,
		m.alertsFired,
		m.notificationsFailed,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for promhttp or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordUpserted(endpoint models.Endpoint) {
	if m == nil {
		return
	}
	m.recordsUpserted.WithLabelValues(string(endpoint)).Inc()
}

func (m *Metrics) RecordsDeleted(endpoint models.Endpoint, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsDeleted.WithLabelValues(string(endpoint)).Add(float64(n))
}

func (m *Metrics) CorruptRecord(endpoint models.Endpoint) {
	if m == nil {
		return
	}
	m.corruptRecords.WithLabelValues(string(endpoint)).Inc()
}

func (m *Metrics) FetchError(endpoint models.Endpoint) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(string(endpoint)).Inc()
}

func (m *Metrics) AlertFired(metric string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(metric).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notificationsFailed.Inc()
}

// Sample is one flattened counter value.
type Sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Samples gathers every counter into "name{label=value}" samples sorted by
// name, for plain-text display.
func (m *Metrics) Samples() ([]Sample, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var out []Sample
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			var labels []string
			for _, lp := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := fam.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			out = append(out, Sample{Name: name, Value: metric.GetCounter().GetValue()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
