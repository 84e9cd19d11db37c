package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. MOT_API_KEY or
// MOT_STORE_DRIVER.
const EnvPrefix = "MOT"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"api-key":             "api_key",
	"base-url":            "base_url",
	"request-timeout":     "request_timeout",
	"max-attempts":        "max_attempts",
	"backoff-initial":     "backoff_initial",
	"backoff-max":         "backoff_max",
	"page-delay":          "page_delay",
	"requests-per-second": "requests_per_second",
	"log-level":           "log_level",
	"metrics-addr":        "metrics_addr",
	"store-driver":        "store.driver",
	"store-path":          "store.path",
	"store-dsn":           "store.dsn",
	"otel-endpoint":       "otel.endpoint",
	"otel-sampling-ratio": "otel.sampling_ratio",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()

	fs.String("config", "", "optional config file (yaml, json or toml)")
	fs.String("api-key", "", "MOT trade API key")
	fs.String("base-url", d.BaseURL, "MOT trade API base URL")
	fs.Duration("request-timeout", d.RequestTimeout, "timeout of a single page request")
	fs.Int("max-attempts", d.MaxAttempts, "attempts per page before the run fails")
	fs.Duration("backoff-initial", d.BackoffInitial, "first retry backoff")
	fs.Duration("backoff-max", d.BackoffMax, "largest retry backoff")
	fs.Duration("page-delay", d.PageDelay, "pause between pages")
	fs.Float64("requests-per-second", d.RequestsPerSecond, "request rate ceiling, 0 disables it")
	fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.String("store-driver", string(d.Store.Driver), "sqlite or postgres")
	fs.String("store-path", d.Store.Path, "sqlite database file")
	fs.String("store-dsn", "", "postgres connection string")
	fs.String("otel-endpoint", "", "OTLP gRPC endpoint, empty disables export")
	fs.Float64("otel-sampling-ratio", d.Otel.SamplingRatio, "trace sampling ratio between 0 and 1")
}

var _ Loader = (*ViperLoader)(nil)

// ViperLoader layers flags over MOT_* environment variables over an optional
// config file over Defaults.
type ViperLoader struct {
	v          *viper.Viper
	configFile string
}

// NewViperLoader creates a loader bound to the flags registered by
// RegisterFlags. fs may be nil.
func NewViperLoader(fs *pflag.FlagSet) (*ViperLoader, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configFile string
	if fs != nil {
		for flagName, key := range flagKeys {
			f := fs.Lookup(flagName)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
			}
		}
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	return &ViperLoader{v: v, configFile: configFile}, nil
}

// Load reads the optional config file and decodes the merged configuration.
// It does not validate.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	cfg := Defaults()
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("backoff_initial", d.BackoffInitial)
	v.SetDefault("backoff_max", d.BackoffMax)
	v.SetDefault("page_delay", d.PageDelay)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("store.driver", string(d.Store.Driver))
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("otel.endpoint", d.Otel.Endpoint)
	v.SetDefault("otel.sampling_ratio", d.Otel.SamplingRatio)
	v.SetDefault("otel.insecure", d.Otel.Insecure)
}
