package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"lending-rate-alerts/internal/logging"
	"lending-rate-alerts/internal/monitor"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Recipient    string             `mapstructure:"recipient"`
	Targets      []TargetConfig     `mapstructure:"targets"`
	Groups       []GroupConfig      `mapstructure:"groups"`
	Fetcher      FetcherConfig      `mapstructure:"fetcher"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TriggerConfig decides which minute ticks start an evaluation cycle.
type TriggerConfig struct {
	HourlyMinute int `mapstructure:"hourly_minute"`
	DailyHour    int `mapstructure:"daily_hour"`
	DailyMinute  int `mapstructure:"daily_minute"`
}

// WindowConfig bounds when notifications may be sent. Start and End are
// "HH:MM" clock strings; a Start after End wraps across midnight.
type WindowConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
}

// MonitorConfig governs the evaluation cycle.
type MonitorConfig struct {
	Trigger         TriggerConfig `mapstructure:"trigger"`
	Window          WindowConfig  `mapstructure:"window"`
	RepeatInterval  time.Duration `mapstructure:"repeat_interval"`
	ManualCooldown  time.Duration `mapstructure:"manual_cooldown"`
	PendingTTL      time.Duration `mapstructure:"pending_ttl"`
	FetchParallel   int           `mapstructure:"fetch_parallel"`
	DigestMode      bool          `mapstructure:"digest_mode"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// TargetConfig declares one monitored rate.
type TargetConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	Exchange  string  `mapstructure:"exchange"`
	Timeframe string  `mapstructure:"timeframe"`
	Threshold float64 `mapstructure:"threshold"`
	Enabled   *bool   `mapstructure:"enabled"`
}

// GroupConfig routes a set of targets to one recipient.
type GroupConfig struct {
	ID      string         `mapstructure:"id"`
	Name    string         `mapstructure:"name"`
	Email   string         `mapstructure:"email"`
	Enabled *bool          `mapstructure:"enabled"`
	Targets []TargetConfig `mapstructure:"targets"`
}

// FetcherConfig selects and parameterises the rate data source.
type FetcherConfig struct {
	Source   string         `mapstructure:"source"`
	API      APIConfig      `mapstructure:"api"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
}

// APIConfig covers the HTTP rate endpoint.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EthereumConfig covers on-chain rate access.
type EthereumConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Markets        map[string]string `mapstructure:"markets"`
	BlocksPerYear  int64             `mapstructure:"blocks_per_year"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig 描述邮件告警参数。Providers 按顺序作为故障转移链。
type EmailConfig struct {
	Enabled        bool                  `mapstructure:"enabled"`
	BaseURL        string                `mapstructure:"base_url"`
	RequestTimeout time.Duration         `mapstructure:"request_timeout"`
	Providers      []EmailProviderConfig `mapstructure:"providers"`
}

// EmailProviderConfig holds one EmailJS-compatible sender's credentials.
type EmailProviderConfig struct {
	Name        string `mapstructure:"name"`
	ServiceID   string `mapstructure:"service_id"`
	TemplateID  string `mapstructure:"template_id"`
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HousekeepingConfig governs periodic pruning of historical tables.
type HousekeepingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Schedule          string        `mapstructure:"schedule"`
	SampleRetention   time.Duration `mapstructure:"sample_retention"`
	DispatchRetention time.Duration `mapstructure:"dispatch_retention"`
	PendingRetention  time.Duration `mapstructure:"pending_retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.trigger.hourly_minute", 0)
	v.SetDefault("monitor.trigger.daily_hour", 9)
	v.SetDefault("monitor.trigger.daily_minute", 30)
	v.SetDefault("monitor.window.enabled", false)
	v.SetDefault("monitor.repeat_interval", "4h")
	v.SetDefault("monitor.manual_cooldown", "30m")
	v.SetDefault("monitor.pending_ttl", "168h")
	v.SetDefault("monitor.fetch_parallel", 4)
	v.SetDefault("monitor.digest_mode", false)
	v.SetDefault("monitor.advisory_lock_key", int64(0x72617465))

	v.SetDefault("fetcher.source", "api")
	v.SetDefault("fetcher.api.request_timeout", "10s")
	v.SetDefault("fetcher.api.user_agent", "ratewatcher/1.0")
	v.SetDefault("fetcher.ethereum.request_timeout", "10s")
	v.SetDefault("fetcher.ethereum.blocks_per_year", int64(2628000))

	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.base_url", "https://api.emailjs.com")
	v.SetDefault("alerting.email.request_timeout", "15s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9184")

	v.SetDefault("housekeeping.enabled", true)
	v.SetDefault("housekeeping.schedule", "0 3 * * *")
	v.SetDefault("housekeeping.sample_retention", "2160h")
	v.SetDefault("housekeeping.dispatch_retention", "720h")
	v.SetDefault("housekeeping.pending_retention", "168h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.Trigger.HourlyMinute < 0 || c.Monitor.Trigger.HourlyMinute > 59 {
		return fmt.Errorf("monitor.trigger.hourly_minute must be between 0 and 59")
	}
	if c.Monitor.Trigger.DailyHour < 0 || c.Monitor.Trigger.DailyHour > 23 {
		return fmt.Errorf("monitor.trigger.daily_hour must be between 0 and 23")
	}
	if c.Monitor.Trigger.DailyMinute < 0 || c.Monitor.Trigger.DailyMinute > 59 {
		return fmt.Errorf("monitor.trigger.daily_minute must be between 0 and 59")
	}
	if c.Monitor.RepeatInterval <= 0 {
		return fmt.Errorf("monitor.repeat_interval must be greater than zero")
	}
	if c.Monitor.PendingTTL <= 0 {
		return fmt.Errorf("monitor.pending_ttl must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	switch c.Fetcher.Source {
	case "api", "onchain":
	default:
		return fmt.Errorf("fetcher.source must be \"api\" or \"onchain\"")
	}
	if c.Fetcher.Source == "onchain" && c.Fetcher.Ethereum.RPCURL == "" {
		return fmt.Errorf("fetcher.ethereum.rpc_url 必须配置")
	}

	for i, t := range c.Targets {
		if t.Symbol == "" {
			return fmt.Errorf("targets[%d].symbol is required", i)
		}
		if t.Threshold < 0 {
			return fmt.Errorf("targets[%d].threshold cannot be negative", i)
		}
	}
	for i, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("groups[%d].id is required", i)
		}
		if g.Email == "" {
			return fmt.Errorf("groups[%d].email is required", i)
		}
		for j, t := range g.Targets {
			if t.Symbol == "" {
				return fmt.Errorf("groups[%d].targets[%d].symbol is required", i, j)
			}
			if t.Threshold < 0 {
				return fmt.Errorf("groups[%d].targets[%d].threshold cannot be negative", i, j)
			}
		}
	}
	if len(c.Targets) > 0 && c.Recipient == "" {
		return fmt.Errorf("recipient is required when top-level targets are configured")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Email.Enabled && len(c.Alerting.Email.Providers) == 0 {
		return fmt.Errorf("alerting.email.providers 必须配置")
	}

	return nil
}

// MonitorGroups converts configuration into runtime groups. Top-level
// targets become a synthetic group with an empty id so flat and grouped
// setups flow through the same evaluation path.
func (c *Config) MonitorGroups() []monitor.Group {
	groups := make([]monitor.Group, 0, len(c.Groups)+1)

	if len(c.Targets) > 0 {
		groups = append(groups, monitor.Group{
			Email:   c.Recipient,
			Enabled: true,
			Targets: convertTargets(c.Targets),
		})
	}

	for _, g := range c.Groups {
		groups = append(groups, monitor.Group{
			ID:      g.ID,
			Name:    g.Name,
			Email:   g.Email,
			Enabled: enabledOrDefault(g.Enabled),
			Targets: convertTargets(g.Targets),
		})
	}

	return groups
}

func convertTargets(targets []TargetConfig) []monitor.Target {
	out := make([]monitor.Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, monitor.Target{
			Key: monitor.TargetKey{
				Symbol:    t.Symbol,
				Exchange:  exchangeOrDefault(t.Exchange),
				Timeframe: timeframeOrDefault(t.Timeframe),
			},
			Threshold: decimal.NewFromFloat(t.Threshold),
			Enabled:   enabledOrDefault(t.Enabled),
		})
	}
	return out
}

func enabledOrDefault(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

func exchangeOrDefault(exchange string) string {
	if exchange == "" {
		return "bitfinex"
	}
	return exchange
}

func timeframeOrDefault(timeframe string) string {
	if timeframe == "" {
		return "1h"
	}
	return timeframe
}

// MonitorWindow builds the notification window from config. Invalid clock
// strings fail open: a warning is logged and the window is treated as
// disabled so alerts are never silently lost to a typo.
func (c *Config) MonitorWindow(logger zerolog.Logger) monitor.Window {
	wc := c.Monitor.Window
	if !wc.Enabled {
		return monitor.Window{}
	}

	start, err := monitor.ParseClock(wc.Start)
	if err != nil {
		logger.Warn().Err(err).Str("start", wc.Start).Msg("invalid window start, notification window disabled")
		return monitor.Window{}
	}
	end, err := monitor.ParseClock(wc.End)
	if err != nil {
		logger.Warn().Err(err).Str("end", wc.End).Msg("invalid window end, notification window disabled")
		return monitor.Window{}
	}

	return monitor.Window{Enabled: true, Start: start, End: end}
}

// MonitorPolicy assembles the evaluation policy for one cycle.
func (c *Config) MonitorPolicy(logger zerolog.Logger) monitor.Policy {
	return monitor.Policy{
		Window:         c.MonitorWindow(logger),
		RepeatInterval: c.Monitor.RepeatInterval,
		ManualCooldown: c.Monitor.ManualCooldown,
		PendingTTL:     c.Monitor.PendingTTL,
		FetchParallel:  c.Monitor.FetchParallel,
		DigestMode:     c.Monitor.DigestMode,
	}
}

// MonitorTrigger assembles the cycle trigger gate.
func (c *Config) MonitorTrigger() monitor.Trigger {
	return monitor.Trigger{
		HourlyMinute: c.Monitor.Trigger.HourlyMinute,
		DailyHour:    c.Monitor.Trigger.DailyHour,
		DailyMinute:  c.Monitor.Trigger.DailyMinute,
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
