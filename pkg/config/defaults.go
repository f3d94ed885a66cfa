package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20
	DefaultMaxBodyBytes    = int64(20 << 20)

	// Store defaults
	DefaultStoreBackend      = "sqlite"
	DefaultSQLitePath        = "data/keys.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultSQLiteWALMode     = true

	// Pool defaults
	DefaultPoolPolicy = "round-robin"

	// Health defaults
	DefaultProbeTimeout = 30 * time.Second
	DefaultPacing       = 500 * time.Millisecond

	// Provider defaults
	DefaultPrimaryBaseURL = "https://generativelanguage.googleapis.com"
	DefaultPrimaryModel   = "gemini-2.0-flash-exp"
	DefaultPrimaryTimeout = 30 * time.Second
	DefaultHostedTimeout  = 15 * time.Second

	// Routing defaults
	DefaultRoutingShape        = "two-tier"
	DefaultValidationCacheTTL  = 5 * time.Minute
	DefaultValidationCacheSize = 10000

	// Telemetry defaults
	DefaultLoggingLevel    = "info"
	DefaultLoggingFormat   = "json"
	DefaultRedactSecrets   = true
	DefaultMetricsEnabled  = true
	DefaultMetricsPath     = "/metrics"
	DefaultMetricsNS       = "keyrelay"
	DefaultTracingEnabled  = false
	DefaultTracingService  = "keyrelay"
	DefaultTracingExporter = "otlp"
	DefaultTracingEndpoint = "localhost:4317"
	DefaultTracingTimeout  = 10 * time.Second
	DefaultTracingSampler  = "always"
	DefaultTracingRatio    = 1.0
)

// NewDefaultConfig returns a Config with every default applied, including
// booleans whose default is true. Files are decoded on top of it so an
// omitted field keeps its default.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Store.SQLite.WALMode = DefaultSQLiteWALMode
	cfg.Telemetry.Logging.RedactSecrets = DefaultRedactSecrets
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Enabled = DefaultTracingEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults. It is idempotent.
func ApplyDefaults(cfg *Config) {
	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(cfg.Server.CORS.AllowedMethods) == 0 {
		cfg.Server.CORS.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.Server.CORS.AllowedHeaders) == 0 {
		cfg.Server.CORS.AllowedHeaders = []string{"Content-Type", "X-Request-ID", "X-Caller-Key"}
	}
	if len(cfg.Server.CORS.ExposedHeaders) == 0 {
		cfg.Server.CORS.ExposedHeaders = []string{"X-Request-ID", "X-Trace-ID"}
	}

	// Store
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	if cfg.Pool.Policy == "" {
		cfg.Pool.Policy = DefaultPoolPolicy
	}

	// Health
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Health.Pacing == 0 {
		cfg.Health.Pacing = DefaultPacing
	}

	// Providers
	if cfg.Providers.Primary.BaseURL == "" {
		cfg.Providers.Primary.BaseURL = DefaultPrimaryBaseURL
	}
	if cfg.Providers.Primary.Model == "" {
		cfg.Providers.Primary.Model = DefaultPrimaryModel
	}
	if cfg.Providers.Primary.Timeout == 0 {
		cfg.Providers.Primary.Timeout = DefaultPrimaryTimeout
	}
	if cfg.Providers.Hosted.Timeout == 0 {
		cfg.Providers.Hosted.Timeout = DefaultHostedTimeout
	}

	// Routing
	if cfg.Routing.Shape == "" && len(cfg.Routing.Tiers) == 0 {
		cfg.Routing.Shape = DefaultRoutingShape
	}
	if cfg.Routing.ValidationCacheTTL == 0 {
		cfg.Routing.ValidationCacheTTL = DefaultValidationCacheTTL
	}
	if cfg.Routing.ValidationCacheSize == 0 {
		cfg.Routing.ValidationCacheSize = DefaultValidationCacheSize
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNS
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Telemetry.Tracing.Exporter == "" {
		cfg.Telemetry.Tracing.Exporter = DefaultTracingExporter
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingRatio
	}
}
