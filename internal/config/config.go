// Package config loads the harvester configuration.
//
// Configuration comes from a YAML or JSON file, overridden by environment
// variables prefixed with HARVEST_ (nested keys joined by underscores, e.g.
// HARVEST_ACM_BATCH_SIZE). The file must name the browser binary and
// driver paths and at least one provider section; each provider section
// must hold exactly the six provider keys.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/pacing"
	"github.com/helixir/paper-harvester/internal/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARVEST"

// Provider section names in the order pipelines are started.
const (
	ProviderACM           = "acm"
	ProviderScienceDirect = "scidir"
	ProviderIEEE          = "ieee"
)

// ProviderNames lists the recognized provider sections.
var ProviderNames = []string{ProviderACM, ProviderScienceDirect, ProviderIEEE}

// ProviderKeys is the exact key set of a provider section.
var ProviderKeys = []string{
	"search_term",
	"link_file_save_to",
	"abs_file_save_to",
	"use_batches",
	"batch_size",
	"keep_link_file",
}

// globalKeys are the top-level keys that are not provider sections.
var globalKeys = []string{
	"binary_location",
	"executable_path",
	"years",
	"transport",
	"pacing",
	"logging",
	"metrics",
	"database",
	"kafka",
}

// Config holds all harvester configuration.
type Config struct {
	// BinaryLocation is the Chrome binary used for rendered providers.
	BinaryLocation string `mapstructure:"binary_location" validate:"required"`
	// ExecutablePath is the browser driver path.
	ExecutablePath string `mapstructure:"executable_path" validate:"required"`

	// ACM, ScienceDirect and IEEE are the provider sections. A nil section
	// is not configured.
	ACM           *ProviderConfig `mapstructure:"acm"`
	ScienceDirect *ProviderConfig `mapstructure:"scidir"`
	IEEE          *ProviderConfig `mapstructure:"ieee"`

	// Years optionally restricts every provider's search.
	Years YearsConfig `mapstructure:"years"`
	// Transport configures how pages are fetched.
	Transport TransportConfig `mapstructure:"transport"`
	// Pacing overrides provider pacing defaults. Zero fields keep the default.
	Pacing PacingConfig `mapstructure:"pacing"`
	// Logging configures the logger.
	Logging observability.LoggingConfig `mapstructure:"logging"`
	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Database configures the optional PostgreSQL mirror of finished artifacts.
	Database DatabaseConfig `mapstructure:"database"`
	// Kafka configures the optional progress event stream.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ProviderConfig is one provider section.
type ProviderConfig struct {
	// Name is the section name. It is not read from the file.
	Name string `mapstructure:"-"`

	SearchTerm     string `mapstructure:"search_term" validate:"required"`
	LinkFileSaveTo string `mapstructure:"link_file_save_to" validate:"required"`
	AbsFileSaveTo  string `mapstructure:"abs_file_save_to" validate:"required,nefield=LinkFileSaveTo"`
	UseBatches     bool   `mapstructure:"use_batches"`
	BatchSize      int    `mapstructure:"batch_size" validate:"gte=0,required_if=UseBatches true"`
	KeepLinkFile   bool   `mapstructure:"keep_link_file"`
}

// YearsConfig is an inclusive publication year range. Zero values leave
// the range open.
type YearsConfig struct {
	From int `mapstructure:"from" validate:"gte=0"`
	To   int `mapstructure:"to" validate:"gte=0"`
}

// TransportConfig configures the page transport.
type TransportConfig struct {
	// Kind is auto, http or browser. Auto uses the browser only for
	// providers whose pages need rendering.
	Kind string `mapstructure:"kind" validate:"oneof=auto http browser"`
	// Timeout bounds a single fetch.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RateLimit is the maximum requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst" validate:"gte=0"`
	// MaxThrottleRetries bounds retries of throttled responses.
	MaxThrottleRetries int `mapstructure:"max_throttle_retries" validate:"gte=0"`
	// UserAgent overrides the default User-Agent.
	UserAgent string `mapstructure:"user_agent"`
	// Headless runs the browser without a window.
	Headless bool `mapstructure:"headless"`
}

// PacingConfig overrides provider pacing.
type PacingConfig struct {
	PageDelay   pacing.Delay  `mapstructure:"page_delay"`
	ItemDelay   pacing.Delay  `mapstructure:"item_delay"`
	MaxAttempts uint          `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	RetryJitter time.Duration `mapstructure:"retry_jitter" validate:"gte=0"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Enabled starts the HTTP endpoint during runs.
	Enabled bool `mapstructure:"enabled"`
	// Address is the listen address.
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
	// Path is the HTTP path for metrics.
	Path string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// DatabaseConfig holds the PostgreSQL connection used to mirror artifacts.
type DatabaseConfig struct {
	// Enabled mirrors every finished artifact into the database.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host" validate:"required_if=Enabled true"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use HARVEST_DATABASE_PASSWORD).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name" validate:"required_if=Enabled true"`
	// SSLMode is one of disable, require, verify-ca, verify-full.
	SSLMode string `mapstructure:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	// MaxConns is the maximum number of pooled connections.
	MaxConns int32 `mapstructure:"max_conns" validate:"gte=0"`
	// MinConns is the number of connections kept open.
	MinConns int32 `mapstructure:"min_conns" validate:"gte=0"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is how long a connection may stay idle.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// ConnectTimeout bounds establishing a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrateOnStart applies pending schema migrations before a run.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

// DSN returns the connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// KafkaConfig holds the progress event publisher settings.
type KafkaConfig struct {
	// Enabled publishes every progress event to Topic.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives the progress events.
	Topic string `mapstructure:"topic" validate:"required_if=Enabled true"`
	// BatchSize is the maximum number of messages sent together.
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`
	// BatchTimeout is the longest a partial batch waits before it is sent.
	BatchTimeout time.Duration `mapstructure:"batch_timeout" validate:"gte=0"`
	// BufferSize bounds the events queued for sending. Events beyond it
	// are dropped.
	BufferSize int `mapstructure:"buffer_size" validate:"gte=0"`
}

// Load reads the configuration file at path. An empty path searches for
// harvester.yaml (or .json) in the working directory and ./config.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, domain.NewConfigurationError("config", fmt.Sprintf("failed to read config file: %v", err))
		}
	}
	return load(v)
}

// LoadFromReader reads configuration of the given format (yaml or json) from r.
func LoadFromReader(r io.Reader, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, domain.NewConfigurationError("config", fmt.Sprintf("failed to parse config: %v", err))
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("binary_location")
	_ = v.BindEnv("executable_path")
	return v
}

func load(v *viper.Viper) (*Config, error) {
	// Layout is checked before defaults exist, so an empty file stays empty.
	if err := validateLayout(v); err != nil {
		return nil, err
	}
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.NewConfigurationError("config", fmt.Sprintf("failed to unmarshal config: %v", err))
	}
	for _, p := range cfg.providerSlots() {
		if *p.cfg != nil {
			(*p.cfg).Name = p.name
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateLayout checks the raw key layout.
func validateLayout(v *viper.Viper) error {
	if len(v.AllSettings()) == 0 {
		return domain.NewConfigurationError("config", "configuration is empty")
	}
	if strings.TrimSpace(v.GetString("binary_location")) == "" {
		return domain.NewConfigurationError("binary_location", "browser binary location is missing")
	}
	if strings.TrimSpace(v.GetString("executable_path")) == "" {
		return domain.NewConfigurationError("executable_path", "driver executable path is missing")
	}

	for key := range v.AllSettings() {
		if !slices.Contains(globalKeys, key) && !slices.Contains(ProviderNames, key) {
			return domain.NewConfigurationError(key, "unknown provider", ProviderNames...)
		}
	}

	var detected []string
	for _, name := range ProviderNames {
		if v.IsSet(name) {
			detected = append(detected, name)
		}
	}
	if len(detected) == 0 {
		return domain.NewConfigurationError("providers", "no provider section found", ProviderNames...)
	}

	for _, name := range detected {
		section := v.GetStringMap(name)
		keys := make([]string, 0, len(section))
		for k := range section {
			keys = append(keys, strings.ToLower(k))
		}
		slices.Sort(keys)
		want := slices.Clone(ProviderKeys)
		slices.Sort(want)
		if !slices.Equal(keys, want) {
			return domain.NewConfigurationError(name, "provider section must hold exactly the expected keys", ProviderKeys...)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Years defaults
	v.SetDefault("years.from", 0)
	v.SetDefault("years.to", 0)

	// Transport defaults
	v.SetDefault("transport.kind", string(transport.KindAuto))
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.rate_limit", 1.0)
	v.SetDefault("transport.burst", 1)
	v.SetDefault("transport.max_throttle_retries", 2)
	v.SetDefault("transport.user_agent", "")
	v.SetDefault("transport.headless", true)

	// Pacing defaults: zero keeps each provider's own policy
	v.SetDefault("pacing.max_attempts", 0)
	v.SetDefault("pacing.retry_delay", "0s")
	v.SetDefault("pacing.retry_jitter", "0s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9091")
	v.SetDefault("metrics.path", "/metrics")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "harvester")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "harvester")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migrate_on_start", true)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "harvester.progress")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")
	v.SetDefault("kafka.buffer_size", 1024)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	vd := validator.New(validator.WithRequiredStructEnabled())
	vd.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return vd
}

// Validate checks value constraints. Every failure is a ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewConfigurationError(fieldPath(fe), fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()))
		}
		return domain.NewConfigurationError("config", err.Error())
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return domain.NewConfigurationError("logging.level", fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}

	// Validate the year range with the same rules a query uses
	if c.Years.From != 0 || c.Years.To != 0 {
		q := domain.NewQuery("probe", c.Years.From, c.Years.To)
		if err := q.Validate(); err != nil {
			return domain.NewConfigurationError("years", err.Error())
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return domain.NewConfigurationError("kafka.brokers", "at least one broker is required when kafka is enabled")
	}

	if len(c.Providers()) == 0 {
		return domain.NewConfigurationError("providers", "no provider section found", ProviderNames...)
	}
	return nil
}

// fieldPath turns a validator namespace such as "Config.acm.batch_size"
// into the config key "acm.batch_size".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

type providerSlot struct {
	name string
	cfg  **ProviderConfig
}

func (c *Config) providerSlots() []providerSlot {
	return []providerSlot{
		{ProviderACM, &c.ACM},
		{ProviderScienceDirect, &c.ScienceDirect},
		{ProviderIEEE, &c.IEEE},
	}
}

// Providers returns the configured provider sections in start order.
func (c *Config) Providers() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.providerSlots() {
		if *p.cfg != nil {
			out = append(out, **p.cfg)
		}
	}
	return out
}

// Query builds the provider's search query.
func (c *Config) Query(p ProviderConfig) domain.Query {
	return domain.NewQuery(p.SearchTerm, c.Years.From, c.Years.To)
}

// TransportConfig returns the transport settings.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Kind:               transport.Kind(c.Transport.Kind),
		Timeout:            c.Transport.Timeout,
		RateLimit:          c.Transport.RateLimit,
		BurstSize:          c.Transport.Burst,
		MaxThrottleRetries: c.Transport.MaxThrottleRetries,
		UserAgent:          c.Transport.UserAgent,
		BinaryLocation:     c.BinaryLocation,
		ExecutablePath:     c.ExecutablePath,
		Headless:           c.Transport.Headless,
	}
}

// PacingOverride returns the pacing overrides as a policy for Policy.Merge.
func (c *Config) PacingOverride() pacing.Policy {
	return pacing.Policy{
		PageDelay:   c.Pacing.PageDelay,
		ItemDelay:   c.Pacing.ItemDelay,
		MaxAttempts: c.Pacing.MaxAttempts,
		RetryDelay:  c.Pacing.RetryDelay,
		RetryJitter: c.Pacing.RetryJitter,
	}
}
