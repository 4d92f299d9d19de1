package integration

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// InfluxMirror copies stored records into an InfluxDB bucket so they can be
// graphed next to other time series. It satisfies core.RecordSink.
type InfluxMirror struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	log    *slog.Logger
}

var _ core.RecordSink = (*InfluxMirror)(nil)

// NewInfluxMirror connects a blocking write API for cfg's org and bucket.
func NewInfluxMirror(cfg models.InfluxConfig, logger *slog.Logger) (*InfluxMirror, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("influx mirror needs url, token and bucket")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxMirror{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:    logger.With("component", "influx"),
	}, nil
}

// WriteRecords writes one point per record in a single batch.
func (m *InfluxMirror) WriteRecords(ctx context.Context, set models.RecordSet) error {
	if len(set) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(set))
	for _, r := range set {
		points = append(points, core.RecordPoint(r))
	}
	if err := m.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing %d points to influx: %w", len(points), err)
	}
	m.log.Debug("records mirrored", "points", len(points))
	return nil
}

// Close releases the client's idle connections.
func (m *InfluxMirror) Close() {
	m.client.Close()
}
