package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// AlertEngineOptions carries the optional collaborators of an AlertEngine.
type AlertEngineOptions struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// EventLog, when set, receives an "alert.fired" event per fired alert.
	EventLog observability.EventLog
	// Clock returns the firing time; time.Now when nil.
	Clock func() time.Time
}

// AlertEngine checks rules against record sets. Each (metric, day) pair
// moves from unevaluated to fired once and stays fired until cleared, so a
// condition is reported at most once.
type AlertEngine struct {
	state    storage.AlertStateStore
	logger   *slog.Logger
	metrics  *observability.Metrics
	eventLog observability.EventLog
	now      func() time.Time
}

// NewAlertEngine creates an AlertEngine over the given state store.
func NewAlertEngine(state storage.AlertStateStore, opts AlertEngineOptions) *AlertEngine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &AlertEngine{
		state:    state,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		eventLog: opts.EventLog,
		now:      opts.Clock,
	}
}

// Evaluate tests rule against every day of set in ascending order and
// returns the alerts that fired on this call. Days without the metric are
// skipped. Days that already fired are suppressed.
func (e *AlertEngine) Evaluate(ctx context.Context, rule models.AlertRule, set models.RecordSet) ([]models.Alert, error) {
	key := rule.MetricKey()
	var alerts []models.Alert
	for _, r := range set {
		v, ok := r.Value(rule.Metric)
		if !ok || !rule.Crosses(v) {
			continue
		}

		at := e.now().UTC()
		fired, err := e.state.TryFire(ctx, key, r.Day, at)
		if err != nil {
			return alerts, fmt.Errorf("evaluating %s on %s: %w", rule, r.Day, err)
		}
		if !fired {
			e.logger.Debug("alert already fired", "metric", key, "day", r.Day.String())
			continue
		}

		alert := models.Alert{
			ID:          uuid.NewString(),
			Rule:        rule,
			Day:         r.Day,
			Value:       v,
			Message:     alertMessage(rule, v),
			TriggeredAt: at,
		}
		alerts = append(alerts, alert)
		e.metrics.AlertFired(key)
		e.logger.Info("alert fired", "metric", key, "day", r.Day.String(), "value", v, "threshold", rule.Threshold)
		e.recordEvent(alert)
	}
	return alerts, nil
}

// EvaluateAll evaluates each rule against the set of its endpoint. Rules
// whose endpoint has no set are skipped.
func (e *AlertEngine) EvaluateAll(ctx context.Context, rules []models.AlertRule, sets map[models.Endpoint]models.RecordSet) ([]models.Alert, error) {
	var all []models.Alert
	for _, rule := range rules {
		set, ok := sets[rule.Endpoint]
		if !ok {
			continue
		}
		alerts, err := e.Evaluate(ctx, rule, set)
		all = append(all, alerts...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Clear resets one (metric, day) pair so it can fire again.
func (e *AlertEngine) Clear(ctx context.Context, metric string, day models.Day) (int, error) {
	n, err := e.state.Clear(ctx, storage.MatchMetricDay(metric, day))
	if err != nil {
		return 0, fmt.Errorf("clearing alert state for %s on %s: %w", metric, day, err)
	}
	return n, nil
}

// ClearMetric resets every day of one metric.
func (e *AlertEngine) ClearMetric(ctx context.Context, metric string) (int, error) {
	n, err := e.state.Clear(ctx, storage.MatchMetric(metric))
	if err != nil {
		return 0, fmt.Errorf("clearing alert state for %s: %w", metric, err)
	}
	return n, nil
}

// ClearAll resets the whole alert state.
func (e *AlertEngine) ClearAll(ctx context.Context) (int, error) {
	n, err := e.state.Clear(ctx, storage.MatchAll)
	if err != nil {
		return 0, fmt.Errorf("clearing alert state: %w", err)
	}
	return n, nil
}

// States lists the persisted alert state.
func (e *AlertEngine) States(ctx context.Context) ([]models.AlertState, error) {
	return e.state.List(ctx)
}

// Notify formats alerts into one message and hands it to n. A failed send
// is logged and returned; the fired state is kept either way.
func (e *AlertEngine) Notify(ctx context.Context, n observability.Notifier, alerts []models.Alert) error {
	msg := observability.FormatAlertMessage(alerts)
	if msg == "" || n == nil {
		return nil
	}
	if err := n.Send(ctx, msg); err != nil {
		e.metrics.NotificationFailed()
		e.logger.Warn("sending alert notification failed", "alerts", len(alerts), "error", err)
		if e.eventLog != nil {
			_ = e.eventLog.Write(observability.Event{
				Time:    e.now().UTC(),
				Level:   "WARN",
				Type:    observability.EventNotifyFailed,
				Message: err.Error(),
			})
		}
		return fmt.Errorf("sending alert notification: %w", err)
	}
	return nil
}

func (e *AlertEngine) recordEvent(a models.Alert) {
	if e.eventLog == nil {
		return
	}
	err := e.eventLog.Write(observability.Event{
		Time:    a.TriggeredAt,
		Day:     a.Day,
		Level:   "WARN",
		Type:    observability.EventAlertFired,
		Message: a.Message,
		Data: map[string]any{
			"id":        a.ID,
			"metric":    a.Rule.MetricKey(),
			"value":     a.Value,
			"threshold": a.Rule.Threshold,
		},
	})
	if err != nil {
		e.logger.Warn("writing alert event failed", "error", err)
	}
}

func alertMessage(rule models.AlertRule, v float64) string {
	return fmt.Sprintf("%s %g (%s %g)", rule.MetricKey(), v, rule.Comparison, rule.Threshold)
}
