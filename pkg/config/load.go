package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYRELAY_"

// LoadConfig reads a YAML file on top of the defaults and validates the
// result. Unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	// Shape only defaults when the file lists no tiers; ApplyDefaults below
	// restores it.
	cfg.Routing.Shape = ""

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads path, then applies KEYRELAY_SECTION_FIELD
// environment variables, which always win over the file. An empty path
// skips the file and starts from defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// envSetter applies one environment variable to cfg.
type envSetter func(cfg *Config, val string) error

var envOverrides = map[string]envSetter{
	"SERVER_LISTEN_ADDRESS":   func(c *Config, v string) error { c.Server.ListenAddress = v; return nil },
	"SERVER_READ_TIMEOUT":     durationVar(func(c *Config) *time.Duration { return &c.Server.ReadTimeout }),
	"SERVER_WRITE_TIMEOUT":    durationVar(func(c *Config) *time.Duration { return &c.Server.WriteTimeout }),
	"SERVER_SHUTDOWN_TIMEOUT": durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout }),

	"STORE_BACKEND":     func(c *Config, v string) error { c.Store.Backend = v; return nil },
	"STORE_SQLITE_PATH": func(c *Config, v string) error { c.Store.SQLite.Path = v; return nil },

	"POOL_POLICY": func(c *Config, v string) error { c.Pool.Policy = v; return nil },

	"HEALTH_PROBE_TIMEOUT": durationVar(func(c *Config) *time.Duration { return &c.Health.ProbeTimeout }),
	"HEALTH_PACING":        durationVar(func(c *Config) *time.Duration { return &c.Health.Pacing }),
	"HEALTH_SCHEDULE":      func(c *Config, v string) error { c.Health.Schedule = v; return nil },

	"PROVIDERS_PRIMARY_BASE_URL":    func(c *Config, v string) error { c.Providers.Primary.BaseURL = v; return nil },
	"PROVIDERS_PRIMARY_MODEL":       func(c *Config, v string) error { c.Providers.Primary.Model = v; return nil },
	"PROVIDERS_PRIMARY_DEFAULT_KEY": func(c *Config, v string) error { c.Providers.Primary.DefaultKey = v; return nil },
	"PROVIDERS_PRIMARY_PROXY_URL":   func(c *Config, v string) error { c.Providers.Primary.ProxyURL = v; return nil },
	"PROVIDERS_PRIMARY_TIMEOUT":     durationVar(func(c *Config) *time.Duration { return &c.Providers.Primary.Timeout }),
	"PROVIDERS_PRIMARY_MAX_RETRIES": intVar(func(c *Config) *int { return &c.Providers.Primary.MaxRetries }),
	"PROVIDERS_HOSTED_URL":          func(c *Config, v string) error { c.Providers.Hosted.URL = v; return nil },
	"PROVIDERS_HOSTED_PROXY_URL":    func(c *Config, v string) error { c.Providers.Hosted.ProxyURL = v; return nil },
	"PROVIDERS_HOSTED_TIMEOUT":      durationVar(func(c *Config) *time.Duration { return &c.Providers.Hosted.Timeout }),

	"ROUTING_SHAPE": func(c *Config, v string) error { c.Routing.Shape = v; return nil },
	"ROUTING_TIERS": func(c *Config, v string) error {
		c.Routing.Tiers = splitList(v)
		return nil
	},
	"ROUTING_VALIDATION_CACHE_TTL": durationVar(func(c *Config) *time.Duration { return &c.Routing.ValidationCacheTTL }),

	"TELEMETRY_LOGGING_LEVEL":          func(c *Config, v string) error { c.Telemetry.Logging.Level = v; return nil },
	"TELEMETRY_LOGGING_FORMAT":         func(c *Config, v string) error { c.Telemetry.Logging.Format = v; return nil },
	"TELEMETRY_LOGGING_REDACT_SECRETS": boolVar(func(c *Config) *bool { return &c.Telemetry.Logging.RedactSecrets }),
	"TELEMETRY_METRICS_ENABLED":        boolVar(func(c *Config) *bool { return &c.Telemetry.Metrics.Enabled }),
	"TELEMETRY_METRICS_PATH":           func(c *Config, v string) error { c.Telemetry.Metrics.Path = v; return nil },
	"TELEMETRY_TRACING_ENABLED":        boolVar(func(c *Config) *bool { return &c.Telemetry.Tracing.Enabled }),
	"TELEMETRY_TRACING_ENDPOINT":       func(c *Config, v string) error { c.Telemetry.Tracing.Endpoint = v; return nil },
	"TELEMETRY_TRACING_SAMPLE_RATIO": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Telemetry.Tracing.SampleRatio = f
		return nil
	},
}

// applyEnvOverrides applies every set KEYRELAY_* variable. A value that
// does not parse is an error rather than being silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	for suffix, set := range envOverrides {
		val, ok := os.LookupEnv(EnvPrefix + suffix)
		if !ok || val == "" {
			continue
		}
		if err := set(cfg, val); err != nil {
			errs = append(errs, FieldError{Field: EnvPrefix + suffix, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func durationVar(field func(*Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func intVar(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}
}

func boolVar(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
