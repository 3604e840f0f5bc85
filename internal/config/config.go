// Package config loads cloud-functions settings from defaults, an optional
// YAML file, CLOUDFN_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CLOUDFN_JANITOR_TABLE_NAME.
const EnvPrefix = "CLOUDFN"

// Config is the full configuration shared by every function.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Invoker  InvokerConfig  `mapstructure:"invoker"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	Registry RegistryConfig `mapstructure:"registry"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Orders   OrdersConfig   `mapstructure:"orders"`
}

// LogConfig sets the zap level and encoder.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Development bool   `mapstructure:"development"`
}

// AWSConfig overrides the region and endpoint of every AWS client.
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
	// Endpoint overrides the service endpoint, used against localstack.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

// InvokerConfig selects how fire-and-forget invocations are dispatched.
type InvokerConfig struct {
	// Mode is "local" (in-process goroutine) or "lambda" (asynchronous Lambda Invoke).
	Mode string `mapstructure:"mode" validate:"oneof=local lambda"`
	// FunctionPrefix is prepended to a function name to build the Lambda function name.
	FunctionPrefix string `mapstructure:"function_prefix"`
}

// JanitorConfig drives the stack janitor functions.
type JanitorConfig struct {
	TableName         string        `mapstructure:"table_name"`
	TagKey            string        `mapstructure:"tag_key" validate:"required"`
	TagValue          string        `mapstructure:"tag_value" validate:"required"`
	TTLTagKey         string        `mapstructure:"ttl_tag_key"`
	ExpirationPeriod  time.Duration `mapstructure:"expiration_period" validate:"gt=0"`
	DeleteInterval    time.Duration `mapstructure:"delete_interval" validate:"gte=0"`
	MaxDeleteAttempts int           `mapstructure:"max_delete_attempts" validate:"min=1"`
	Concurrency       int           `mapstructure:"concurrency" validate:"min=1,max=64"`
	// StateFile backs the tracking records with a local JSON file when TableName is empty.
	StateFile string `mapstructure:"state_file"`
}

// RegistryConfig locates the npm registry bucket and its audit topic.
type RegistryConfig struct {
	Bucket        string        `mapstructure:"bucket"`
	PublicURL     string        `mapstructure:"public_url" validate:"required,url"`
	AuditTopicARN string        `mapstructure:"audit_topic_arn"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryMax      int           `mapstructure:"retry_max" validate:"gte=0"`
}

// GitHubConfig configures the GitHub authorizer.
type GitHubConfig struct {
	// URL is a GitHub Enterprise API base URL. Empty means github.com.
	URL            string   `mapstructure:"url" validate:"omitempty,url"`
	ClientID       string   `mapstructure:"client_id"`
	ClientSecret   string   `mapstructure:"client_secret"`
	RestrictedOrgs []string `mapstructure:"restricted_orgs"`
	Admins         []string `mapstructure:"admins"`
	// PolicyFile replaces the built-in authorization policy.
	PolicyFile string `mapstructure:"policy_file"`
}

// ReportsConfig names the repository error reports are filed in.
type ReportsConfig struct {
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`
	Token string `mapstructure:"token"`
	// Threshold is the normalized edit distance under which two stack traces are duplicates.
	Threshold float64 `mapstructure:"threshold" validate:"gt=0,lte=1"`
}

// OrdersConfig drives place-order, capture-order and process-card-payments.
type OrdersConfig struct {
	TableName      string       `mapstructure:"table_name"`
	APIKey         string       `mapstructure:"api_key"`
	Enabled        bool         `mapstructure:"enabled"`
	Restaurants    []string     `mapstructure:"restaurants"`
	Stream         StreamConfig `mapstructure:"stream"`
	ItemsPerSecond float64      `mapstructure:"items_per_second" validate:"gt=0"`
	Burst          int          `mapstructure:"burst" validate:"min=1"`
}

// StreamConfig describes where order events are published.
type StreamConfig struct {
	Kind    string   `mapstructure:"kind" validate:"oneof=kinesis kafka none"`
	Name    string   `mapstructure:"name"`
	Brokers []string `mapstructure:"brokers"`
}

var validate = validator.New()

// SetDefaults registers a default for every key. AutomaticEnv only resolves
// keys viper already knows about, so every setting needs one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("invoker.mode", "local")
	v.SetDefault("invoker.function_prefix", "")

	v.SetDefault("janitor.table_name", "")
	v.SetDefault("janitor.tag_key", "stackjanitor")
	v.SetDefault("janitor.tag_value", "enabled")
	v.SetDefault("janitor.ttl_tag_key", "stackjanitor-ttl")
	v.SetDefault("janitor.expiration_period", 7*24*time.Hour)
	v.SetDefault("janitor.delete_interval", time.Hour)
	v.SetDefault("janitor.max_delete_attempts", 3)
	v.SetDefault("janitor.concurrency", 4)
	v.SetDefault("janitor.state_file", "")

	v.SetDefault("registry.bucket", "")
	v.SetDefault("registry.public_url", "https://registry.npmjs.org")
	v.SetDefault("registry.audit_topic_arn", "")
	v.SetDefault("registry.timeout", 10*time.Second)
	v.SetDefault("registry.retry_max", 2)

	v.SetDefault("github.url", "")
	v.SetDefault("github.client_id", "")
	v.SetDefault("github.client_secret", "")
	v.SetDefault("github.restricted_orgs", []string{})
	v.SetDefault("github.admins", []string{})
	v.SetDefault("github.policy_file", "")

	v.SetDefault("reports.owner", "")
	v.SetDefault("reports.repo", "")
	v.SetDefault("reports.token", "")
	v.SetDefault("reports.threshold", 0.1)

	v.SetDefault("orders.table_name", "")
	v.SetDefault("orders.api_key", "")
	v.SetDefault("orders.enabled", true)
	v.SetDefault("orders.restaurants", []string{})
	v.SetDefault("orders.stream.kind", "none")
	v.SetDefault("orders.stream.name", "")
	v.SetDefault("orders.stream.brokers", []string{})
	v.SetDefault("orders.items_per_second", 2.0)
	v.SetDefault("orders.burst", 1)
}

// NewViper returns a viper instance wired for CLOUDFN_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps the global command-line flags onto their configuration keys.
// Flags that do not exist in fs are ignored.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"log.level":  "log-level",
		"aws.region": "region",
	}
	for key, name := range bindings {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional config file into v, decodes it and validates the result.
// A missing file is an error only when path was set explicitly.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("cloud-functions")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults and the environment alone.
func Default() (*Config, error) {
	v := NewViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, cfg.Validate()
}

// Validate checks field formats. Per-function requirements (bucket names,
// credentials) are checked when the function is created.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// normalize splits comma-separated list values that arrive as a single element
// from environment variables, and trims blanks.
func (c *Config) normalize() {
	c.GitHub.RestrictedOrgs = splitList(c.GitHub.RestrictedOrgs)
	c.GitHub.Admins = splitList(c.GitHub.Admins)
	c.Orders.Restaurants = splitList(c.Orders.Restaurants)
	c.Orders.Stream.Brokers = splitList(c.Orders.Stream.Brokers)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
