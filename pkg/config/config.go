package config

import "time"

// Config is the root configuration for keyrelay.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the key store backend.
	Store StoreConfig `yaml:"store"`

	// Pool configures key rotation.
	Pool PoolConfig `yaml:"pool"`

	// Health configures key probes, batch checks and their schedule.
	Health HealthConfig `yaml:"health"`

	// Providers configures the upstream image-generation services.
	Providers ProvidersConfig `yaml:"providers"`

	// Routing configures the fallback chain.
	Routing RoutingConfig `yaml:"routing"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// ListenAddress is "host:port".
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout must leave room for the slowest full fallback chain.
	// Default: 120s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes caps request bodies, which may carry an inline image.
	// Default: 20MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS controls cross-origin access for browser dashboards.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains cross-origin settings. Disabled by default.
type CORSConfig struct {
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins lists allowed origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Default: GET, POST, DELETE, OPTIONS
	AllowedMethods []string `yaml:"allowed_methods"`

	// Default: Content-Type, X-Request-ID, X-Caller-Key
	AllowedHeaders []string `yaml:"allowed_headers"`

	ExposedHeaders []string `yaml:"exposed_headers"`

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int `yaml:"max_age"`

	AllowCredentials bool `yaml:"allow_credentials"`
}

// StoreConfig selects the key store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig configures the SQLite key store.
type SQLiteConfig struct {
	// Default: "data/keys.db"
	Path string `yaml:"path"`

	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Default: true
	WALMode bool `yaml:"wal_mode"`
}

// PoolConfig configures key selection.
type PoolConfig struct {
	// Policy is one of "random", "sequential", "round-robin", "least-used".
	// Default: "round-robin"
	Policy string `yaml:"policy"`
}

// HealthConfig configures key health checking.
type HealthConfig struct {
	// ProbeTimeout bounds each probe.
	// Default: 30s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Pacing is the delay between keys in a batch check. A negative value
	// disables pacing.
	// Default: 500ms
	Pacing time.Duration `yaml:"pacing"`

	// Schedule is a cron expression for periodic batch checks. Empty
	// disables scheduling.
	// Default: "" (disabled)
	Schedule string `yaml:"schedule"`

	// QuotaIndicators are lowercase substrings that mark a response body as
	// a quota failure. Empty means the built-in list.
	QuotaIndicators []string `yaml:"quota_indicators"`

	// InvalidIndicators are lowercase substrings that mark a response body
	// as a rejected key. Empty means the built-in list.
	InvalidIndicators []string `yaml:"invalid_indicators"`
}

// ProvidersConfig configures the upstream services.
type ProvidersConfig struct {
	Primary PrimaryConfig `yaml:"primary"`
	Hosted  HostedConfig  `yaml:"hosted"`
}

// PrimaryConfig configures the primary generation API.
type PrimaryConfig struct {
	// Default: "https://generativelanguage.googleapis.com"
	BaseURL string `yaml:"base_url"`

	// Default: "gemini-2.0-flash-exp"
	Model string `yaml:"model"`

	// DefaultKey is used by the direct tier when the caller sends no key.
	// Should be loaded from KEYRELAY_PROVIDERS_PRIMARY_DEFAULT_KEY.
	DefaultKey string `yaml:"default_key"`

	// ProxyURL routes calls through an http(s) or socks5 proxy.
	ProxyURL string `yaml:"proxy_url"`

	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries for transport errors and 5xx.
	// Default: 0
	MaxRetries int `yaml:"max_retries"`
}

// HostedConfig configures the secondary hosted service.
type HostedConfig struct {
	// URL of the hosted generation endpoint. Required when a hosted tier is
	// in the chain.
	URL string `yaml:"url"`

	// Default: 15s
	Timeout time.Duration `yaml:"timeout"`

	ProxyURL string `yaml:"proxy_url"`

	// Headers are added to every hosted request.
	Headers map[string]string `yaml:"headers"`
}

// RoutingConfig configures the fallback chain.
type RoutingConfig struct {
	// Shape is "two-tier" (hosted, pooled) or "three-tier" (direct first).
	// Ignored when Tiers is set.
	// Default: "two-tier"
	Shape string `yaml:"shape"`

	// Tiers is an explicit ordered tier list, e.g. [pooled, hosted].
	Tiers []string `yaml:"tiers"`

	// ValidationCacheTTL is how long a caller key's verdict is reused by
	// the pooled tier. Zero disables the cache.
	// Default: 5m
	ValidationCacheTTL time.Duration `yaml:"validation_cache_ttl"`

	// ValidationCacheSize caps cached verdicts. Zero is unlimited.
	// Default: 10000
	ValidationCacheSize int `yaml:"validation_cache_size"`
}

// TelemetryConfig groups observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks API keys in log output.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom regular expression to mask in logs.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Default: "/metrics"
	Path string `yaml:"path"`

	// Default: "keyrelay"
	Namespace string `yaml:"namespace"`

	Subsystem string `yaml:"subsystem"`

	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
	ProbeDurationBuckets   []float64 `yaml:"probe_duration_buckets"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Default: "keyrelay"
	ServiceName string `yaml:"service_name"`

	ServiceVersion string `yaml:"service_version"`

	// Exporter is "otlp".
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP/gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	Insecure bool `yaml:"insecure"`

	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Sampler is "always", "never" or "ratio".
	// Default: "always"
	Sampler string `yaml:"sampler"`

	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`
}
