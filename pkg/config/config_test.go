package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if !cfg.Telemetry.Logging.RedactSecrets || !cfg.Telemetry.Metrics.Enabled || !cfg.Store.SQLite.WALMode {
		t.Error("true-valued boolean defaults not applied")
	}
	if cfg.Telemetry.Tracing.Enabled {
		t.Error("tracing enabled by default")
	}
	if cfg.Routing.Shape != "two-tier" || cfg.Pool.Policy != "round-robin" {
		t.Errorf("routing shape = %q, pool policy = %q", cfg.Routing.Shape, cfg.Pool.Policy)
	}
	if cfg.Health.ProbeTimeout != 30*time.Second || cfg.Health.Pacing != 500*time.Millisecond {
		t.Errorf("health = %+v", cfg.Health)
	}
	if err := Validate(cfg); err == nil {
		t.Error("defaults validate without a hosted URL although the two-tier chain needs one")
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	first := *cfg
	ApplyDefaults(cfg)
	if !reflect.DeepEqual(cfg.Server, first.Server) || cfg.Routing.ValidationCacheTTL != first.Routing.ValidationCacheTTL {
		t.Error("ApplyDefaults is not idempotent")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Store.Backend != "sqlite" {
					t.Errorf("Backend = %q", cfg.Store.Backend)
				}
			},
		},
		{
			name: "overrides and durations",
			yaml: `
server:
  listen_address: "0.0.0.0:9090"
health:
  probe_timeout: 5s
  schedule: "*/15 * * * *"
  quota_indicators: ["quota", "resource_exhausted"]
routing:
  tiers: [pooled, hosted]
telemetry:
  metrics:
    enabled: false
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.ListenAddress != "0.0.0.0:9090" {
					t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
				}
				if cfg.Health.ProbeTimeout != 5*time.Second {
					t.Errorf("ProbeTimeout = %v", cfg.Health.ProbeTimeout)
				}
				if len(cfg.Health.QuotaIndicators) != 2 {
					t.Errorf("QuotaIndicators = %v", cfg.Health.QuotaIndicators)
				}
				if strings.Join(cfg.Routing.Tiers, ",") != "pooled,hosted" || cfg.Routing.Shape != "" {
					t.Errorf("Tiers = %v, Shape = %q", cfg.Routing.Tiers, cfg.Routing.Shape)
				}
				if cfg.Telemetry.Metrics.Enabled {
					t.Error("metrics.enabled: false ignored")
				}
				if !cfg.Telemetry.Logging.RedactSecrets {
					t.Error("omitted boolean lost its default")
				}
			},
		},
		{
			name: "shape defaults without tiers",
			yaml: "pool:\n  policy: random\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Routing.Shape != DefaultRoutingShape || len(cfg.Routing.Tiers) != 0 {
					t.Errorf("Shape = %q, Tiers = %v", cfg.Routing.Shape, cfg.Routing.Tiers)
				}
			},
		},
		{
			name: "explicit shape kept",
			yaml: "routing:\n  shape: three-tier\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Routing.Shape != "three-tier" {
					t.Errorf("Shape = %q", cfg.Routing.Shape)
				}
			},
		},
		{name: "unknown field", yaml: "server:\n  port: 80\n", wantErr: true},
		{name: "malformed", yaml: "server: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{"a.b", "bad"}}}
	if got := one.Error(); got != "configuration validation failed: a.b: bad" {
		t.Errorf("Error() = %q", got)
	}
	many := ValidationError{Errors: []FieldError{{"a", "x"}, {"b", "y"}}}
	if !strings.Contains(many.Error(), "2 errors") {
		t.Errorf("Error() = %q", many.Error())
	}

	var ve ValidationError
	if !errors.As(Validate(&Config{}), &ve) {
		t.Error("Validate() did not return a ValidationError")
	}
}
