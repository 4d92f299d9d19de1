package models

// StoreConfig selects and tunes the record store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=file badger memory"`
	// LockRetries bounds how many times a contended store lock is retried.
	LockRetries int `yaml:"lock_retries" mapstructure:"lock_retries" validate:"min=1,max=100"`
	// LockTimeoutMS bounds the total time spent retrying a contended lock.
	LockTimeoutMS int `yaml:"lock_timeout_ms" mapstructure:"lock_timeout_ms" validate:"min=1"`
}

// RetentionConfig controls cache cleanup.
type RetentionConfig struct {
	HorizonDays int `yaml:"horizon_days" mapstructure:"horizon_days" validate:"min=1"`
}

// AnalysisConfig holds the tunable analyzer parameters.
type AnalysisConfig struct {
	WindowDays     int         `yaml:"window_days" mapstructure:"window_days" validate:"min=1"`
	SigmaThreshold float64     `yaml:"sigma_threshold" mapstructure:"sigma_threshold" validate:"gt=0"`
	MinSamples     int         `yaml:"min_samples" mapstructure:"min_samples" validate:"min=2"`
	FlatEpsilon    float64     `yaml:"flat_epsilon" mapstructure:"flat_epsilon" validate:"gte=0"`
	Metrics        []MetricRef `yaml:"metrics" mapstructure:"metrics" validate:"dive"`
	// Timezone is the IANA zone days are counted in. Empty means local time.
	Timezone             string  `yaml:"timezone" mapstructure:"timezone" validate:"omitempty,timezone"`
	TravelThresholdHours float64 `yaml:"travel_threshold_hours" mapstructure:"travel_threshold_hours" validate:"gt=0,lte=12"`
}

// TelegramConfig configures the Telegram bot notifier.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" mapstructure:"bot_token"`
	ChatID   string `yaml:"chat_id" mapstructure:"chat_id"`
}

// SlackConfig configures the Slack webhook notifier.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// NotificationConfig selects the notification sink.
type NotificationConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Slack    SlackConfig    `yaml:"slack" mapstructure:"slack"`
}

// OuraConfig configures the remote provider client.
type OuraConfig struct {
	Token          string  `yaml:"token" mapstructure:"token"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec" validate:"gt=0"`
	TimeoutSec     int     `yaml:"timeout_sec" mapstructure:"timeout_sec" validate:"min=1"`
}

// InfluxConfig configures the optional InfluxDB mirror.
type InfluxConfig struct {
	URL    string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	Token  string `yaml:"token" mapstructure:"token"`
	Org    string `yaml:"org" mapstructure:"org"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
}

// Enabled reports whether enough is configured to mirror records.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Bucket != ""
}

// Config is the full application configuration read from config.yaml in
// the data directory.
type Config struct {
	LogLevel      string             `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Store         StoreConfig        `yaml:"store" mapstructure:"store"`
	Retention     RetentionConfig    `yaml:"retention" mapstructure:"retention"`
	Analysis      AnalysisConfig     `yaml:"analysis" mapstructure:"analysis"`
	Alerts        []AlertRule        `yaml:"alerts" mapstructure:"alerts" validate:"dive"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
	Oura          OuraConfig         `yaml:"oura" mapstructure:"oura"`
	Influx        InfluxConfig       `yaml:"influx" mapstructure:"influx"`
}
