package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// Accepted enumeration values.
var (
	validBackends = []string{"memory", "sqlite"}
	validPolicies = []string{"random", "sequential", "round-robin", "least-used"}
	validShapes   = []string{"two-tier", "three-tier"}
	validTiers    = []string{"direct", "hosted", "pooled"}
	validLevels   = []string{"debug", "info", "warn", "warning", "error"}
	validFormats  = []string{"json", "text", "console"}
	validSamplers = []string{"always", "never", "ratio"}
	proxySchemes  = []string{"http", "https", "socks5", "socks5h"}
)

// FieldError is a validation failure for one field.
type FieldError struct {
	// Field is the dotted YAML path, e.g. "server.listen_address".
	Field   string
	Message string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the whole configuration and reports every problem at
// once.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateHealth(&cfg.Health)...)
	errs = append(errs, validateProviders(&cfg.Providers)...)
	errs = append(errs, validateRouting(cfg)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{"server.listen_address", "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{"server.listen_address", fmt.Sprintf("invalid host:port: %v", err)})
	}
	for field, d := range map[string]int64{
		"server.read_timeout":     int64(cfg.ReadTimeout),
		"server.write_timeout":    int64(cfg.WriteTimeout),
		"server.idle_timeout":     int64(cfg.IdleTimeout),
		"server.shutdown_timeout": int64(cfg.ShutdownTimeout),
	} {
		if d < 0 {
			errs = append(errs, FieldError{field, "must not be negative"})
		}
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{"server.max_header_bytes", "must not be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{"server.max_body_bytes", "must not be negative"})
	}
	if cfg.CORS.Enabled && len(cfg.CORS.AllowedOrigins) == 0 {
		errs = append(errs, FieldError{"server.cors.allowed_origins", "at least one origin is required when CORS is enabled"})
	}
	if cfg.CORS.MaxAge < 0 {
		errs = append(errs, FieldError{"server.cors.max_age", "must not be negative"})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError
	if !slices.Contains(validBackends, cfg.Backend) {
		errs = append(errs, oneOf("store.backend", cfg.Backend, validBackends))
	}
	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{"store.sqlite.path", "path is required for the sqlite backend"})
	}
	if cfg.SQLite.BusyTimeout < 0 {
		errs = append(errs, FieldError{"store.sqlite.busy_timeout", "must not be negative"})
	}
	return errs
}

func validatePool(cfg *PoolConfig) []FieldError {
	if !slices.Contains(validPolicies, cfg.Policy) {
		return []FieldError{oneOf("pool.policy", cfg.Policy, validPolicies)}
	}
	return nil
}

func validateHealth(cfg *HealthConfig) []FieldError {
	var errs []FieldError
	if cfg.ProbeTimeout < 0 {
		errs = append(errs, FieldError{"health.probe_timeout", "must not be negative"})
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{"health.schedule", fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	for i, s := range cfg.QuotaIndicators {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, FieldError{fmt.Sprintf("health.quota_indicators[%d]", i), "must not be empty"})
		}
	}
	for i, s := range cfg.InvalidIndicators {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, FieldError{fmt.Sprintf("health.invalid_indicators[%d]", i), "must not be empty"})
		}
	}
	return errs
}

func validateProviders(cfg *ProvidersConfig) []FieldError {
	var errs []FieldError

	if err := checkURL(cfg.Primary.BaseURL, []string{"http", "https"}); err != "" {
		errs = append(errs, FieldError{"providers.primary.base_url", err})
	}
	if cfg.Primary.Model == "" {
		errs = append(errs, FieldError{"providers.primary.model", "model is required"})
	}
	if cfg.Primary.ProxyURL != "" {
		if err := checkURL(cfg.Primary.ProxyURL, proxySchemes); err != "" {
			errs = append(errs, FieldError{"providers.primary.proxy_url", err})
		}
	}
	if cfg.Primary.Timeout < 0 {
		errs = append(errs, FieldError{"providers.primary.timeout", "must not be negative"})
	}
	if cfg.Primary.MaxRetries < 0 {
		errs = append(errs, FieldError{"providers.primary.max_retries", "must not be negative"})
	}

	if cfg.Hosted.URL != "" {
		if err := checkURL(cfg.Hosted.URL, []string{"http", "https"}); err != "" {
			errs = append(errs, FieldError{"providers.hosted.url", err})
		}
	}
	if cfg.Hosted.ProxyURL != "" {
		if err := checkURL(cfg.Hosted.ProxyURL, proxySchemes); err != "" {
			errs = append(errs, FieldError{"providers.hosted.proxy_url", err})
		}
	}
	if cfg.Hosted.Timeout < 0 {
		errs = append(errs, FieldError{"providers.hosted.timeout", "must not be negative"})
	}
	return errs
}

func validateRouting(cfg *Config) []FieldError {
	var errs []FieldError
	r := &cfg.Routing

	tiers := r.Tiers
	if len(tiers) == 0 {
		switch r.Shape {
		case "two-tier":
			tiers = []string{"hosted", "pooled"}
		case "three-tier":
			tiers = []string{"direct", "hosted", "pooled"}
		default:
			errs = append(errs, oneOf("routing.shape", r.Shape, validShapes))
		}
	}

	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		field := fmt.Sprintf("routing.tiers[%d]", i)
		if !slices.Contains(validTiers, t) {
			errs = append(errs, oneOf(field, t, validTiers))
			continue
		}
		if seen[t] {
			errs = append(errs, FieldError{field, fmt.Sprintf("tier %q listed twice", t)})
		}
		seen[t] = true
	}
	if seen["hosted"] && cfg.Providers.Hosted.URL == "" {
		errs = append(errs, FieldError{"providers.hosted.url", "url is required when the hosted tier is enabled"})
	}

	if r.ValidationCacheTTL < 0 {
		errs = append(errs, FieldError{"routing.validation_cache_ttl", "must not be negative"})
	}
	if r.ValidationCacheSize < 0 {
		errs = append(errs, FieldError{"routing.validation_cache_size", "must not be negative"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if !slices.Contains(validLevels, strings.ToLower(cfg.Logging.Level)) {
		errs = append(errs, oneOf("telemetry.logging.level", cfg.Logging.Level, validLevels))
	}
	if !slices.Contains(validFormats, strings.ToLower(cfg.Logging.Format)) {
		errs = append(errs, oneOf("telemetry.logging.format", cfg.Logging.Format, validFormats))
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i), "pattern is required"})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{"telemetry.metrics.path", "path must start with /"})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Exporter != "otlp" {
			errs = append(errs, oneOf("telemetry.tracing.exporter", cfg.Tracing.Exporter, []string{"otlp"}))
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{"telemetry.tracing.endpoint", "endpoint is required when tracing is enabled"})
		}
	}
	if !slices.Contains(validSamplers, cfg.Tracing.Sampler) {
		errs = append(errs, oneOf("telemetry.tracing.sampler", cfg.Tracing.Sampler, validSamplers))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{"telemetry.tracing.sample_ratio", "must be between 0.0 and 1.0"})
	}
	return errs
}

func oneOf(field, got string, valid []string) FieldError {
	return FieldError{field, fmt.Sprintf("invalid value %q (valid: %s)", got, strings.Join(valid, ", "))}
}

// checkURL returns a message describing why raw is unusable, or "".
func checkURL(raw string, schemes []string) string {
	if raw == "" {
		return "url is required"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid url: %v", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Sprintf("unsupported scheme %q (valid: %s)", u.Scheme, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return "url must include a host"
	}
	return ""
}
