package tractus

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment variable read by ConfigFromEnv.
const envPrefix = "TRACTUS_"

// Protocol represents the transport used to export spans.
// Possible values are "grpc", "http", "zipkin" or "noop".
type Protocol string

const (
	// ProtocolGRPC exports spans over OTLP/gRPC.
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP exports spans over OTLP/HTTP.
	ProtocolHTTP Protocol = "http"
	// ProtocolZipkin exports spans to a Zipkin collector.
	ProtocolZipkin Protocol = "zipkin"
	// ProtocolNoop exports nothing.
	ProtocolNoop Protocol = "noop"
)

// Config holds the recognized tracker options. Zero values fall back to the
// defaults produced by DefaultConfig.
type Config struct {
	URL                   string             `yaml:"url,omitempty"                     env:"URL"`                                                                                       // Exporter endpoint (collector URL)
	Protocol              Protocol           `yaml:"protocol,omitempty"                env:"PROTOCOL"          envDefault:"noop"         validate:"required,oneof=grpc http zipkin noop"` // Exporter transport
	ServiceName           string             `yaml:"service_name,omitempty"            env:"SERVICE_NAME"      envDefault:"tractus"      validate:"required"`                          // Value reported as service.name
	RootPrefix            string             `yaml:"root_prefix,omitempty"             env:"ROOT_PREFIX"       envDefault:"msg"`                                                        // Span-name prefix for journey spans
	IgnoredTypes          string             `yaml:"ignored_types,omitempty"           env:"IGNORED_TYPES"`                                                                             // Comma-separated step types excluded from span creation
	PropagateHeadersTypes string             `yaml:"propagate_headers_types,omitempty" env:"PROPAGATE_HEADERS_TYPES"`                                                                   // Comma-separated step types eligible for context injection
	Logging               bool               `yaml:"logging,omitempty"                 env:"LOGGING"           envDefault:"false"`                                                      // Enable diagnostic event logging
	TimeoutMs             int                `yaml:"timeout_ms,omitempty"              env:"TIMEOUT_MS"        envDefault:"30000"        validate:"gte=0"`                             // Sweep inactivity threshold in milliseconds
	SweepIntervalMs       int                `yaml:"sweep_interval_ms,omitempty"       env:"SWEEP_INTERVAL_MS" envDefault:"0"            validate:"gte=0"`                             // Sweep cadence in milliseconds, 0 = derived from timeout
	AttributeMappings     []AttributeMapping `yaml:"attribute_mappings,omitempty"`                                                                                                      // Ordered payload-to-attribute extraction rules
}

// DefaultConfig returns the baseline tracker configuration: no exporter,
// default journey prefix, thirty-second sweep timeout.
func DefaultConfig() Config {
	return Config{
		Protocol:    ProtocolNoop,
		ServiceName: "tractus",
		RootPrefix:  DefaultRootPrefix,
		TimeoutMs:   int(DefaultSweepTimeout / time.Millisecond),
	}
}

// LoadConfig reads and validates a YAML tracker configuration from path.
// Omitted fields keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading tracker configuration %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing tracker configuration %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigFromEnv builds and validates a tracker configuration from TRACTUS_*
// environment variables. Attribute mappings cannot be expressed in the
// environment and stay empty.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("parsing tracker configuration from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for correctness using struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("tracker configuration validation failed: %w", err)
	}
	if c.Protocol != ProtocolNoop && strings.TrimSpace(c.URL) == "" {
		return NewConfigError("url", fmt.Errorf("endpoint url is required for protocol %q", c.Protocol))
	}
	return nil
}

// SweepTimeout returns the configured inactivity threshold as a duration.
func (c *Config) SweepTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SweepInterval returns the configured sweep cadence as a duration, zero when
// the cadence should be derived from the timeout.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// IgnoredTypesList splits the comma-separated ignored step types.
func (c *Config) IgnoredTypesList() []string {
	return splitTypes(c.IgnoredTypes)
}

// PropagateTypesList splits the comma-separated propagation-eligible step
// types.
func (c *Config) PropagateTypesList() []string {
	return splitTypes(c.PropagateHeadersTypes)
}

func splitTypes(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewTrackerFromConfig validates cfg, builds the tracer provider for its
// protocol and assembles a tracker from it. Extra options are applied after
// the configuration-derived ones, so callers can override any of them (most
// commonly the logger or the metrics collector).
func NewTrackerFromConfig(ctx context.Context, cfg Config, options ...TrackerOption) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := NewObservabilityFactory().CreateTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Logging {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	opts := []TrackerOption{
		WithTracerProvider(provider),
		WithRootPrefix(cfg.RootPrefix),
		WithIgnoredTypes(cfg.IgnoredTypesList()...),
		WithPropagateTypes(cfg.PropagateTypesList()...),
		WithSweepTimeout(cfg.SweepTimeout()),
		WithAttributeMappings(cfg.AttributeMappings...),
		WithLogger(logger),
	}
	if cfg.SweepInterval() > 0 {
		opts = append(opts, WithSweepInterval(cfg.SweepInterval()))
	}
	opts = append(opts, options...)

	return NewTracker(opts...), nil
}
