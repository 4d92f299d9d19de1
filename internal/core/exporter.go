package core

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// Format names an export encoding.
type Format string

const (
	// FormatJSON is a single flat JSON document.
	FormatJSON Format = "json"
	// FormatArchive is a tar.gz bundle with one JSON file per endpoint,
	// events.jsonl and manifest.json.
	FormatArchive Format = "archive"
	// FormatTabular is CSV with columns endpoint, day, then field names
	// in ascending order.
	FormatTabular Format = "tabular"
	// FormatLine is InfluxDB line protocol, one point per record.
	FormatLine Format = "line"
)

// ParseFormat accepts a format name or one of its aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "archive", "tar.gz", "tgz":
		return FormatArchive, nil
	case "tabular", "csv":
		return FormatTabular, nil
	case "line", "influx":
		return FormatLine, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, archive, tabular or line)", s)
	}
}

// Selector chooses what to export. The zero value selects every endpoint
// plus the event log.
type Selector struct {
	Endpoints  []models.Endpoint
	EventsOnly bool
}

// ExportManifest describes an export.
type ExportManifest struct {
	ExportedAt time.Time               `json:"exported_at"`
	Format     Format                  `json:"format"`
	Records    map[models.Endpoint]int `json:"records"`
	Events     int                     `json:"events"`
}

// Exporter serializes a read-consistent view of the store.
type Exporter struct {
	store  storage.RecordStore
	events observability.EventLog
	now    func() time.Time
}

// NewExporter creates an Exporter. events may be nil.
func NewExporter(store storage.RecordStore, events observability.EventLog, clock func() time.Time) *Exporter {
	if clock == nil {
		clock = time.Now
	}
	return &Exporter{store: store, events: events, now: clock}
}

// exportData is one consistent snapshot plus the events.
type exportData struct {
	endpoints []models.Endpoint
	records   map[models.Endpoint]models.RecordSet
	events    []observability.Event
}

// Export writes the selected data to w in the given format. All records
// come from a single store snapshot so no partial record is emitted.
func (x *Exporter) Export(ctx context.Context, w io.Writer, sel Selector, format Format) (ExportManifest, error) {
	data, err := x.collect(ctx, sel)
	if err != nil {
		return ExportManifest{}, err
	}

	manifest := ExportManifest{
		ExportedAt: x.now().UTC().Truncate(time.Second),
		Format:     format,
		Records:    make(map[models.Endpoint]int, len(data.endpoints)),
		Events:     len(data.events),
	}
	for _, e := range data.endpoints {
		manifest.Records[e] = len(data.records[e])
	}

	switch format {
	case FormatJSON:
		err = writeJSONExport(w, manifest, data)
	case FormatArchive:
		err = writeArchiveExport(w, manifest, data)
	case FormatTabular:
		if sel.EventsOnly {
			err = writeEventsCSV(w, data.events)
		} else {
			err = writeRecordsCSV(w, data)
		}
	case FormatLine:
		if sel.EventsOnly {
			return manifest, fmt.Errorf("line format cannot encode events")
		}
		err = writeLineProtocol(w, data)
	default:
		return manifest, fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return manifest, fmt.Errorf("exporting %s: %w", format, err)
	}
	return manifest, nil
}

func (x *Exporter) collect(ctx context.Context, sel Selector) (exportData, error) {
	var data exportData
	if !sel.EventsOnly {
		data.endpoints = sel.Endpoints
		if len(data.endpoints) == 0 {
			data.endpoints = models.AllEndpoints()
		}
		snap, err := x.store.Snapshot(ctx, data.endpoints)
		if err != nil {
			return data, fmt.Errorf("snapshotting store: %w", err)
		}
		data.records = snap
	}
	if x.events != nil && (sel.EventsOnly || len(sel.Endpoints) == 0) {
		events, err := x.events.Read(observability.EventFilter{})
		if err != nil {
			return data, fmt.Errorf("reading events: %w", err)
		}
		data.events = events
	}
	return data, nil
}

// jsonExport is the manifest with the data inlined. The event log goes
// under its own key because "events" already carries the manifest count.
type jsonExport struct {
	ExportManifest
	Data     map[models.Endpoint]models.RecordSet `json:"data,omitempty"`
	EventLog []observability.Event                `json:"event_log,omitempty"`
}

func writeJSONExport(w io.Writer, manifest ExportManifest, data exportData) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonExport{ExportManifest: manifest, Data: data.records, EventLog: data.events})
}

func writeArchiveExport(w io.Writer, manifest ExportManifest, data exportData) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	add := func(name string, body []byte) error {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(body)),
			ModTime: manifest.ExportedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %s: %w", name, err)
		}
		if _, err := tw.Write(body); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		return nil
	}

	for _, e := range data.endpoints {
		set := data.records[e]
		if set == nil {
			set = models.RecordSet{}
		}
		body, err := json.MarshalIndent(set, "", "  ")
		if err != nil {
			return err
		}
		if err := add(string(e)+".json", body); err != nil {
			return err
		}
	}

	var lines strings.Builder
	for _, ev := range data.events {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		lines.Write(b)
		lines.WriteByte('\n')
	}
	if err := add("events.jsonl", []byte(lines.String())); err != nil {
		return err
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := add("manifest.json", body); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	return gz.Close()
}

// TabularColumns returns the CSV header for a set of records: endpoint,
// day, then the union of field names in ascending order.
func TabularColumns(records map[models.Endpoint]models.RecordSet) []string {
	seen := make(map[string]struct{})
	for _, set := range records {
		for _, r := range set {
			for name := range r.Fields {
				seen[name] = struct{}{}
			}
		}
	}
	fields := make([]string, 0, len(seen))
	for name := range seen {
		fields = append(fields, name)
	}
	slices.Sort(fields)
	return append([]string{"endpoint", "day"}, fields...)
}

func writeRecordsCSV(w io.Writer, data exportData) error {
	cw := csv.NewWriter(w)
	header := TabularColumns(data.records)
	if err := cw.Write(header); err != nil {
		return err
	}
	fields := header[2:]
	row := make([]string, len(header))
	for _, e := range data.endpoints {
		for _, r := range data.records[e] {
			row[0], row[1] = string(e), r.Day.String()
			for i, name := range fields {
				if v, ok := r.Fields[name]; ok {
					row[i+2] = strconv.FormatFloat(v, 'f', -1, 64)
				} else {
					row[i+2] = ""
				}
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEventsCSV(w io.Writer, events []observability.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "day", "level", "type", "message"}); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{ev.Time.UTC().Format(time.RFC3339), ev.Day.String(), ev.Level, ev.Type, ev.Message}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RecordPoint converts a record into an InfluxDB point in measurement
// "oura", tagged by endpoint and stamped at the start of its day.
func RecordPoint(r models.MetricRecord) *write.Point {
	fields := make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return write.NewPoint("oura", map[string]string{"endpoint": string(r.Endpoint)}, fields, r.Day.Time())
}

func writeLineProtocol(w io.Writer, data exportData) error {
	for _, e := range data.endpoints {
		for _, r := range data.records[e] {
			if r.Endpoint == "" {
				r.Endpoint = e
			}
			line := write.PointToLineProtocol(RecordPoint(r), time.Second)
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
