// Package core contains the business logic for oura: configuration, the
// analyzer, the alert engine, retention, export, guarded cache clearing, and
// the sync path from a remote fetcher into the record store.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// ConfigFileName is the configuration file looked up in the data directory.
const ConfigFileName = "config.yaml"

// ConfigurationManager loads and validates the application configuration.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

// viperConfigManager reads config.yaml from the data directory with Viper
// and overlays environment variables.
type viperConfigManager struct {
	dataDir  string
	validate *validator.Validate
}

// NewConfigurationManager creates a ConfigurationManager rooted at dataDir.
func NewConfigurationManager(dataDir string) ConfigurationManager {
	v := validator.New()
	_ = v.RegisterValidation("endpoint", validateEndpoint)
	return &viperConfigManager{dataDir: dataDir, validate: v}
}

func validateEndpoint(fl validator.FieldLevel) bool {
	return models.Endpoint(fl.Field().String()).Valid()
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *models.Config {
	return &models.Config{
		LogLevel: "info",
		Store: models.StoreConfig{
			Backend:       "file",
			LockRetries:   10,
			LockTimeoutMS: 5000,
		},
		Retention: models.RetentionConfig{HorizonDays: 90},
		Analysis: models.AnalysisConfig{
			WindowDays:           7,
			SigmaThreshold:       2,
			MinSamples:           3,
			FlatEpsilon:          1.0,
			Metrics:              DefaultSummaryMetrics(),
			TravelThresholdHours: DefaultTravelThresholdHours,
		},
		Alerts: DefaultAlertRules(),
		Oura: models.OuraConfig{
			BaseURL:        "https://api.ouraring.com/v2/usercollection",
			RequestsPerSec: 2,
			TimeoutSec:     30,
		},
	}
}

// DefaultSummaryMetrics lists the metrics summarized when none are configured.
func DefaultSummaryMetrics() []models.MetricRef {
	return []models.MetricRef{
		{Endpoint: models.EndpointSleep, Field: "score"},
		{Endpoint: models.EndpointSleep, Field: "efficiency"},
		{Endpoint: models.EndpointSleep, Field: "total_sleep_hours"},
		{Endpoint: models.EndpointReadiness, Field: "score"},
		{Endpoint: models.EndpointActivity, Field: "score"},
		{Endpoint: models.EndpointActivity, Field: "steps"},
		{Endpoint: models.EndpointHRV, Field: "average_hrv"},
	}
}

// DefaultAlertRules are the low-readiness and poor-sleep checks used when
// no rules are configured.
func DefaultAlertRules() []models.AlertRule {
	return []models.AlertRule{
		{Endpoint: models.EndpointReadiness, Metric: "score", Threshold: 60, Comparison: models.ComparisonBelow},
		{Endpoint: models.EndpointSleep, Metric: "efficiency", Threshold: 80, Comparison: models.ComparisonBelow},
		{Endpoint: models.EndpointSleep, Metric: "total_sleep_hours", Threshold: 7, Comparison: models.ComparisonBelow},
	}
}

// Load reads config.yaml from the data directory. Missing keys fall back to
// DefaultConfig and a missing file yields the defaults. OURA_API_TOKEN,
// TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID, USER_TIMEZONE and
// OURA_<SECTION>_<KEY> variables override file values.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(ConfigFileName, ".yaml"))
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.dataDir)

	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.lock_retries", def.Store.LockRetries)
	v.SetDefault("store.lock_timeout_ms", def.Store.LockTimeoutMS)
	v.SetDefault("retention.horizon_days", def.Retention.HorizonDays)
	v.SetDefault("analysis.window_days", def.Analysis.WindowDays)
	v.SetDefault("analysis.sigma_threshold", def.Analysis.SigmaThreshold)
	v.SetDefault("analysis.min_samples", def.Analysis.MinSamples)
	v.SetDefault("analysis.flat_epsilon", def.Analysis.FlatEpsilon)
	v.SetDefault("analysis.timezone", def.Analysis.Timezone)
	v.SetDefault("analysis.travel_threshold_hours", def.Analysis.TravelThresholdHours)
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.telegram.bot_token", "")
	v.SetDefault("notifications.telegram.chat_id", "")
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("oura.token", "")
	v.SetDefault("oura.base_url", def.Oura.BaseURL)
	v.SetDefault("oura.requests_per_sec", def.Oura.RequestsPerSec)
	v.SetDefault("oura.timeout_sec", def.Oura.TimeoutSec)
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")

	v.SetEnvPrefix("OURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("oura.token", "OURA_API_TOKEN")
	_ = v.BindEnv("notifications.telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("notifications.telegram.chat_id", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("analysis.timezone", "USER_TIMEZONE")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ConfigFileName, err)
	}
	if !v.IsSet("alerts") {
		cfg.Alerts = def.Alerts
	}
	if !v.IsSet("analysis.metrics") {
		cfg.Analysis.Metrics = def.Analysis.Metrics
	}

	if err := cm.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks struct constraints and reports the first offending
// fields by their YAML path.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := cm.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
