// Package config defines the motingest configuration and loads it from flags,
// MOT_* environment variables and an optional config file.
package config

import (
	"time"

	"github.com/ahrav/mot-ingest/internal/app/ingestion"
	"github.com/ahrav/mot-ingest/internal/infra/motapi"
	"github.com/ahrav/mot-ingest/pkg/common/otel"
)

// StoreDriver selects the relational backend.
type StoreDriver string

const (
	StoreDriverSQLite   StoreDriver = "sqlite"
	StoreDriverPostgres StoreDriver = "postgres"
)

// Config is the complete process configuration.
type Config struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"min=1,max=50"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffInitial"`
	PageDelay         time.Duration `mapstructure:"page_delay" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	LogLevel          string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr       string        `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	Store StoreConfig `mapstructure:"store"`
	Otel  OtelConfig  `mapstructure:"otel"`
}

// StoreConfig selects and locates the database.
type StoreConfig struct {
	Driver StoreDriver `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path   string      `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN    string      `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

// OtelConfig configures trace and metric export. An empty endpoint disables
// export.
type OtelConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	Insecure      bool    `mapstructure:"insecure"`
}

// Defaults returns the configuration used when nothing overrides a key.
func Defaults() Config {
	retry := ingestion.DefaultRetryPolicy()
	return Config{
		BaseURL:           motapi.DefaultBaseURL,
		RequestTimeout:    motapi.DefaultRequestTimeout,
		MaxAttempts:       retry.MaxAttempts,
		BackoffInitial:    retry.InitialInterval,
		BackoffMax:        retry.MaxInterval,
		PageDelay:         ingestion.DefaultPageDelay,
		RequestsPerSecond: 5,
		LogLevel:          "info",
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
			Path:   "db/motdata.db",
		},
		Otel: OtelConfig{
			SamplingRatio: 1,
			Insecure:      true,
		},
	}
}

// RetryPolicy maps the backoff settings onto the retry governor's policy.
func (c *Config) RetryPolicy() ingestion.RetryPolicy {
	p := ingestion.DefaultRetryPolicy()
	p.MaxAttempts = c.MaxAttempts
	p.InitialInterval = c.BackoffInitial
	p.MaxInterval = c.BackoffMax
	return p
}

// ClientConfig maps the API settings onto the fetcher's configuration.
func (c *Config) ClientConfig() motapi.Config {
	return motapi.Config{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		RequestTimeout:    c.RequestTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// TelemetryConfig maps the otel settings for the given service.
func (c *Config) TelemetryConfig(serviceName string) otel.Config {
	return otel.Config{
		ServiceName:      serviceName,
		ExporterEndpoint: c.Otel.Endpoint,
		Probability:      c.Otel.SamplingRatio,
		InsecureExporter: c.Otel.Insecure,
	}
}
