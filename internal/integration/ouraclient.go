// Package integration connects oura to external systems: the Oura cloud
// API as the record source and InfluxDB as an optional mirror.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// DefaultOuraBaseURL is the Oura v2 user collection API.
const DefaultOuraBaseURL = "https://api.ouraring.com/v2/usercollection"

// ErrMissingToken is returned when no personal access token is configured.
var ErrMissingToken = errors.New("OURA_API_TOKEN not set (create one at https://cloud.ouraring.com/personal-access-token)")

// ErrUnauthorized is returned when the API rejects the token.
var ErrUnauthorized = errors.New("oura API rejected the access token")

// Sleep period fields that hold per-sample time series rather than daily
// values. They are not flattened into records.
var sleepSeriesFields = []string{"heart_rate", "hrv", "movement_30_sec", "sleep_phase_5_min", "readiness"}

// hrvFields are copied from the main sleep period into HRV records.
var hrvFields = []string{"average_hrv", "average_heart_rate", "lowest_heart_rate", "average_breath"}

// OuraClientOptions configures an OuraClient.
type OuraClientOptions struct {
	BaseURL        string
	Token          string
	RequestsPerSec float64
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// OuraClient fetches daily records from the Oura cloud API. Requests are
// paced by a token bucket shared across goroutines.
type OuraClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewOuraClient creates an OuraClient. It fails when no token is set.
func NewOuraClient(opts OuraClientOptions) (*OuraClient, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOuraBaseURL
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &OuraClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		log:     opts.Logger,
	}, nil
}

// NewOuraClientFromConfig builds a client from the oura config section.
func NewOuraClientFromConfig(cfg models.OuraConfig, logger *slog.Logger) (*OuraClient, error) {
	return NewOuraClient(OuraClientOptions{
		BaseURL:        cfg.BaseURL,
		Token:          cfg.Token,
		RequestsPerSec: cfg.RequestsPerSec,
		Timeout:        time.Duration(cfg.TimeoutSec) * time.Second,
		Logger:         logger,
	})
}

// Fetch returns the records of one endpoint for [start, end], ascending by
// day.
func (c *OuraClient) Fetch(ctx context.Context, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error) {
	var (
		set models.RecordSet
		err error
	)
	switch endpoint {
	case models.EndpointSleep:
		set, err = c.fetchSleep(ctx, start, end)
	case models.EndpointReadiness:
		set, err = c.fetchDaily(ctx, "daily_readiness", endpoint, start, end)
	case models.EndpointActivity:
		set, err = c.fetchDaily(ctx, "daily_activity", endpoint, start, end)
	case models.EndpointHRV:
		set, err = c.fetchHRV(ctx, start, end)
	default:
		return nil, fmt.Errorf("fetching %q: unknown endpoint", endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	set.Sort()
	return set, nil
}

func (c *OuraClient) fetchDaily(ctx context.Context, path string, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error) {
	docs, err := c.collection(ctx, path, start, end)
	if err != nil {
		return nil, err
	}
	set := make(models.RecordSet, 0, len(docs))
	for _, doc := range docs {
		day, ok := docDay(doc)
		if !ok {
			continue
		}
		fields := FlattenNumeric(doc)
		addTextFields(doc, fields)
		set = append(set, models.MetricRecord{Day: day, Endpoint: endpoint, Fields: fields})
	}
	return set, nil
}

// fetchSleep merges the main sleep period of each day with that day's
// daily_sleep score and contributors. daily_sleep lags behind the detailed
// periods, so days without a score still produce a record.
func (c *OuraClient) fetchSleep(ctx context.Context, start, end models.Day) (models.RecordSet, error) {
	periods, err := c.mainSleepPeriods(ctx, start, end)
	if err != nil {
		return nil, err
	}
	daily, err := c.collection(ctx, "daily_sleep", start, end)
	if err != nil {
		return nil, err
	}

	byDay := make(map[models.Day]map[string]float64, len(periods))
	for day, doc := range periods {
		fields := FlattenNumeric(doc, sleepSeriesFields...)
		addTextFields(doc, fields)
		byDay[day] = fields
	}
	for _, doc := range daily {
		day, ok := docDay(doc)
		if !ok {
			continue
		}
		fields := byDay[day]
		if fields == nil {
			fields = make(map[string]float64)
			byDay[day] = fields
		}
		for k, v := range FlattenNumeric(doc) {
			fields[k] = v
		}
		addTextFields(doc, fields)
	}

	set := make(models.RecordSet, 0, len(byDay))
	for day, fields := range byDay {
		set = append(set, models.MetricRecord{Day: day, Endpoint: models.EndpointSleep, Fields: fields})
	}
	return set, nil
}

func (c *OuraClient) fetchHRV(ctx context.Context, start, end models.Day) (models.RecordSet, error) {
	periods, err := c.mainSleepPeriods(ctx, start, end)
	if err != nil {
		return nil, err
	}
	set := make(models.RecordSet, 0, len(periods))
	for day, doc := range periods {
		fields := make(map[string]float64)
		for _, name := range hrvFields {
			if v, ok := doc[name].(float64); ok {
				fields[name] = v
			}
		}
		if len(fields) == 0 {
			continue
		}
		set = append(set, models.MetricRecord{Day: day, Endpoint: models.EndpointHRV, Fields: fields})
	}
	return set, nil
}

// mainSleepPeriods returns one sleep period per day: the long sleep when
// present, otherwise the longest period. Naps are dropped.
func (c *OuraClient) mainSleepPeriods(ctx context.Context, start, end models.Day) (map[models.Day]map[string]any, error) {
	docs, err := c.collection(ctx, "sleep", start, end)
	if err != nil {
		return nil, err
	}
	main := make(map[models.Day]map[string]any)
	for _, doc := range docs {
		day, ok := docDay(doc)
		if !ok {
			continue
		}
		if cur, ok := main[day]; !ok || betterSleepPeriod(doc, cur) {
			main[day] = doc
		}
	}
	return main, nil
}

func betterSleepPeriod(a, b map[string]any) bool {
	aLong, bLong := a["type"] == "long_sleep", b["type"] == "long_sleep"
	if aLong != bLong {
		return aLong
	}
	ad, _ := a["total_sleep_duration"].(float64)
	bd, _ := b["total_sleep_duration"].(float64)
	return ad > bd
}

type collectionPage struct {
	Data      []map[string]any `json:"data"`
	NextToken *string          `json:"next_token"`
}

// collection reads every page of a user collection for [start, end].
func (c *OuraClient) collection(ctx context.Context, path string, start, end models.Day) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("start_date", start.String())
	params.Set("end_date", end.String())

	var docs []map[string]any
	for {
		page, err := c.get(ctx, path, params)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page.Data...)
		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		params.Set("next_token", *page.NextToken)
	}
	c.log.Debug("collection fetched", "path", path, "documents", len(docs))
	return docs, nil
}

func (c *OuraClient) get(ctx context.Context, path string, params url.Values) (*collectionPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	reqURL := c.baseURL + "/" + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", path, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page collectionPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return &page, nil
}

func docDay(doc map[string]any) (models.Day, bool) {
	s, ok := doc["day"].(string)
	if !ok {
		return models.Day{}, false
	}
	day, err := models.ParseDay(s)
	if err != nil {
		return models.Day{}, false
	}
	return day, true
}

// addTextFields stores numeric forms of the text fields the analyses read:
// the sleep period's bedtime_start as Unix seconds and a stress status label
// as stress_score. A numeric stress_score already present wins.
func addTextFields(doc map[string]any, fields map[string]float64) {
	if s, ok := doc["bedtime_start"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			fields[core.BedtimeField] = float64(t.Unix())
		}
	}
	if _, ok := fields["stress_score"]; ok {
		return
	}
	for _, key := range core.StressStatusFields {
		label, ok := doc[key].(string)
		if !ok {
			continue
		}
		if v, ok := core.StressLabelScore(label); ok {
			fields["stress_score"] = v
			return
		}
	}
}

// FlattenNumeric collects the numeric leaves of a decoded JSON object under
// dotted names, e.g. {"contributors": {"rem_sleep": 80}} becomes
// "contributors.rem_sleep". Strings, booleans, nulls and arrays are
// dropped, as are the top-level keys listed in skip.
func FlattenNumeric(doc map[string]any, skip ...string) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range doc {
		if slices.Contains(skip, k) {
			continue
		}
		flattenInto(out, k, v)
	}
	return out
}

func flattenInto(out map[string]float64, prefix string, v any) {
	switch t := v.(type) {
	case float64:
		out[prefix] = t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			out[prefix] = f
		}
	case map[string]any:
		for k, inner := range t {
			flattenInto(out, prefix+"."+k, inner)
		}
	}
}
