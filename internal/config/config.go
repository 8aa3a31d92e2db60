package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "POSITION_SCANNER_CONFIG"
	databaseDSNEnv  = "DATABASE_DSN"
	ledgerDriverEnv = "LEDGER_DRIVER"
	ledgerPathEnv   = "LEDGER_PATH"
	redisURLEnv     = "REDIS_URL"
	smtpHostEnv     = "SMTP_HOST"
	smtpPortEnv     = "SMTP_PORT"
	smtpUserEnv     = "SMTP_USERNAME"
	smtpPasswordEnv = "SMTP_PASSWORD"
	smtpFromEnv     = "SMTP_FROM"
	smtpTLSEnv      = "SMTP_TLS"
	telegramToken   = "TELEGRAM_BOT_TOKEN"
	telegramChatID  = "TELEGRAM_CHAT_ID"
	natsURLEnv      = "NATS_URL"
	logLevelEnv     = "LOG_LEVEL"
	logFormatEnv    = "LOG_FORMAT"
)

// Source kinds.
const (
	SourceTable   = "table"
	SourceListing = "listing"
)

// Notification channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelNATS     = "nats"
)

// Subscriber directory kinds.
const (
	DirectoryYAML  = "yaml"
	DirectoryTable = "table"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Ledger        LedgerConfig       `yaml:"ledger"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Dispatch      DispatchConfig     `yaml:"dispatch"`
	Notifications NotificationConfig `yaml:"notifications"`
	Subscribers   SubscribersConfig  `yaml:"subscribers"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// LoggingConfig sets the slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes Postgres connection details.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	SkipMigrations bool   `yaml:"skipMigrations"`
}

// LedgerConfig selects the notification ledger backend.
type LedgerConfig struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	RedisURL    string        `yaml:"redisUrl"`
	KeyPrefix   string        `yaml:"keyPrefix"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	RunOnStart     bool           `yaml:"runOnStart"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// DispatchConfig bounds concurrency and per-call time.
type DispatchConfig struct {
	FilterWorkers int           `yaml:"filterWorkers"`
	Workers       int           `yaml:"workers"`
	RatePerSec    float64       `yaml:"ratePerSec"`
	SendTimeout   time.Duration `yaml:"sendTimeout"`
	LedgerTimeout time.Duration `yaml:"ledgerTimeout"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Channel   string         `yaml:"channel"`
	SiteTitle string         `yaml:"siteTitle"`
	Email     EmailConfig    `yaml:"email"`
	Telegram  TelegramConfig `yaml:"telegram"`
	NATS      NATSConfig     `yaml:"nats"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"fromName"`
	TLS      string `yaml:"tls"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// NATSConfig points the bus sender at a JetStream server.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// SubscribersConfig selects the subscriber directory.
type SubscribersConfig struct {
	Kind  string `yaml:"kind"`
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// MetricsConfig sets the listen address of the metrics endpoint; empty
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// SourceConfig describes one origin of positions.
type SourceConfig struct {
	Name      string            `yaml:"name"`
	Label     string            `yaml:"label"`
	Kind      string            `yaml:"kind"`
	Table     string            `yaml:"table"`
	Scanner   string            `yaml:"scanner"`
	Pages     []PageConfig      `yaml:"pages"`
	Options   map[string]string `yaml:"options"`
	Target    []string          `yaml:"target"`
	Forbidden []string          `yaml:"forbidden"`
}

// PageConfig is one listing URL.
type PageConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if present), applies environment overrides
// and validates the result.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		fileCfg, err := Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	set := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	set(databaseDSNEnv, &c.Database.DSN)
	set(ledgerDriverEnv, &c.Ledger.Driver)
	set(ledgerPathEnv, &c.Ledger.Path)
	set(redisURLEnv, &c.Ledger.RedisURL)
	set(smtpHostEnv, &c.Notifications.Email.Host)
	set(smtpUserEnv, &c.Notifications.Email.Username)
	set(smtpPasswordEnv, &c.Notifications.Email.Password)
	set(smtpFromEnv, &c.Notifications.Email.From)
	set(smtpTLSEnv, &c.Notifications.Email.TLS)
	set(telegramToken, &c.Notifications.Telegram.BotToken)
	set(telegramChatID, &c.Notifications.Telegram.ChatID)
	set(natsURLEnv, &c.Notifications.NATS.URL)
	set(logLevelEnv, &c.Logging.Level)
	set(logFormatEnv, &c.Logging.Format)

	if v := os.Getenv(smtpPortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a port number", smtpPortEnv, v)
		}
		c.Notifications.Email.Port = port
	}
	return nil
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

// Validate reports every problem found, joined into one error.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		add("logging: unknown format %q", c.Logging.Format)
	}

	switch c.Ledger.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			add("ledger: driver postgres needs database.dsn")
		}
	case "sqlite", "file":
		if c.Ledger.Path == "" {
			add("ledger: driver %s needs ledger.path", c.Ledger.Driver)
		}
	case "redis":
		if c.Ledger.RedisURL == "" {
			add("ledger: driver redis needs ledger.redisUrl")
		}
	default:
		add("ledger: unknown driver %q", c.Ledger.Driver)
	}

	switch c.Notifications.Channel {
	case ChannelEmail:
		if c.Notifications.Email.Host == "" || c.Notifications.Email.From == "" {
			add("notifications: email needs host and from")
		}
	case ChannelTelegram:
		if c.Notifications.Telegram.BotToken == "" {
			add("notifications: telegram needs botToken")
		}
	case ChannelNATS:
		if c.Notifications.NATS.URL == "" {
			add("notifications: nats needs url")
		}
	default:
		add("notifications: unknown channel %q", c.Notifications.Channel)
	}

	switch c.Subscribers.Kind {
	case DirectoryYAML:
		if c.Subscribers.Path == "" {
			add("subscribers: yaml directory needs path")
		}
	case DirectoryTable:
		if c.Database.DSN == "" {
			add("subscribers: table directory needs database.dsn")
		}
	default:
		add("subscribers: unknown kind %q", c.Subscribers.Kind)
	}

	if c.Dispatch.Workers < 1 || c.Dispatch.FilterWorkers < 1 {
		add("dispatch: workers and filterWorkers must be at least 1")
	}
	if c.Dispatch.RatePerSec < 0 {
		add("dispatch: ratePerSec must not be negative")
	}

	if len(c.Sources) == 0 {
		add("sources: at least one source is required")
	}
	seen := map[string]struct{}{}
	for i, src := range c.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			add("sources[%d]: name is required", i)
			continue
		}
		if _, dup := seen[name]; dup {
			add("sources[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		switch src.Kind {
		case SourceTable:
			if c.Database.DSN == "" {
				add("source %s: table sources need database.dsn", name)
			}
		case SourceListing:
			if len(src.Pages) == 0 {
				add("source %s: listing sources need pages", name)
			}
			if src.Options["item"] == "" {
				add("source %s: listing sources need options.item", name)
			}
		default:
			add("source %s: unknown kind %q", name, src.Kind)
		}
	}

	return errors.Join(errs...)
}

// SourceByName returns the named source.
func (c Config) SourceByName(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// TableName returns the table a table source reads, defaulting to its name.
func (s SourceConfig) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Name
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.SkipMigrations {
		base.Database.SkipMigrations = true
	}

	if override.Ledger.Driver != "" {
		base.Ledger.Driver = override.Ledger.Driver
	}
	if override.Ledger.Path != "" {
		base.Ledger.Path = override.Ledger.Path
	}
	if override.Ledger.RedisURL != "" {
		base.Ledger.RedisURL = override.Ledger.RedisURL
	}
	if override.Ledger.KeyPrefix != "" {
		base.Ledger.KeyPrefix = override.Ledger.KeyPrefix
	}
	if override.Ledger.BusyTimeout > 0 {
		base.Ledger.BusyTimeout = override.Ledger.BusyTimeout
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.RunOnStart {
		base.Scheduler.RunOnStart = true
	}

	if override.Dispatch.FilterWorkers > 0 {
		base.Dispatch.FilterWorkers = override.Dispatch.FilterWorkers
	}
	if override.Dispatch.Workers > 0 {
		base.Dispatch.Workers = override.Dispatch.Workers
	}
	if override.Dispatch.RatePerSec != 0 {
		base.Dispatch.RatePerSec = override.Dispatch.RatePerSec
	}
	if override.Dispatch.SendTimeout > 0 {
		base.Dispatch.SendTimeout = override.Dispatch.SendTimeout
	}
	if override.Dispatch.LedgerTimeout > 0 {
		base.Dispatch.LedgerTimeout = override.Dispatch.LedgerTimeout
	}
	if override.Dispatch.FetchTimeout > 0 {
		base.Dispatch.FetchTimeout = override.Dispatch.FetchTimeout
	}

	n := override.Notifications
	if n.Channel != "" {
		base.Notifications.Channel = n.Channel
	}
	if n.SiteTitle != "" {
		base.Notifications.SiteTitle = n.SiteTitle
	}
	if n.Email.Host != "" {
		base.Notifications.Email.Host = n.Email.Host
	}
	if n.Email.Port != 0 {
		base.Notifications.Email.Port = n.Email.Port
	}
	if n.Email.Username != "" {
		base.Notifications.Email.Username = n.Email.Username
	}
	if n.Email.Password != "" {
		base.Notifications.Email.Password = n.Email.Password
	}
	if n.Email.From != "" {
		base.Notifications.Email.From = n.Email.From
	}
	if n.Email.FromName != "" {
		base.Notifications.Email.FromName = n.Email.FromName
	}
	if n.Email.TLS != "" {
		base.Notifications.Email.TLS = n.Email.TLS
	}
	if n.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = n.Telegram.BotToken
	}
	if n.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = n.Telegram.ChatID
	}
	if n.NATS.URL != "" {
		base.Notifications.NATS.URL = n.NATS.URL
	}
	if n.NATS.SubjectPrefix != "" {
		base.Notifications.NATS.SubjectPrefix = n.NATS.SubjectPrefix
	}

	if override.Subscribers.Kind != "" {
		base.Subscribers.Kind = override.Subscribers.Kind
	}
	if override.Subscribers.Path != "" {
		base.Subscribers.Path = override.Subscribers.Path
	}
	if override.Subscribers.Table != "" {
		base.Subscribers.Table = override.Subscribers.Table
	}

	if override.Metrics.Listen != "" {
		base.Metrics.Listen = override.Metrics.Listen
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Ledger:    LedgerConfig{Driver: "file", Path: "data/ledger.jsonl", BusyTimeout: 5 * time.Second},
		Scheduler: SchedulerConfig{CronExpression: "0 8 * * *", Timezone: defaultTimezone, location: tz},
		Dispatch: DispatchConfig{
			FilterWorkers: 4,
			Workers:       2,
			RatePerSec:    1,
			SendTimeout:   30 * time.Second,
			LedgerTimeout: 5 * time.Second,
			FetchTimeout:  2 * time.Minute,
		},
		Notifications: NotificationConfig{
			Channel:   ChannelEmail,
			SiteTitle: "PositionScanner",
			Email:     EmailConfig{Port: 587, TLS: "starttls"},
		},
		Subscribers: SubscribersConfig{Kind: DirectoryYAML, Path: "subscribers.yaml", Table: "subscribers"},
		Sources: []SourceConfig{
			{Name: "kth_se", Label: "KTH Royal Institute of Technology", Kind: SourceTable},
			{Name: "helsinki_fi", Label: "University of Helsinki", Kind: SourceTable,
				Target: []string{"Doctoral Researcher"}, Forbidden: []string{"Postdoctoral"}},
			{Name: "uva_nl", Label: "UvA University of Amsterdam", Kind: SourceTable},
			{Name: "tuni_fi", Label: "University of Tampere", Kind: SourceTable,
				Target: []string{"Doctoral Researcher"}},
			{Name: "liu_se", Label: "Linköping University", Kind: SourceTable,
				Target: []string{"PhD"}, Forbidden: []string{"Postdoc"}},
		},
	}
}
