// Package config provides the unified configuration system for lokitail.
// It defines a single BaseConfig structure shared by the Loki source and
// every sink, so that all connectors are configured the same way.
//
// The configuration is organized into logical sections:
//   - Performance: polling window and tail limit
//   - Timeouts: connection, request and read timeouts
//   - Reliability: reconnect policy and rate limiting
//   - Security: TLS and connector credentials
//   - Observability: logging, metrics and tracing
//   - Advanced: sink-side compression
//
// Example usage:
//
//	cfg := config.NewBaseConfig("loki", "source")
//	cfg.Performance.BatchWindow = 30 * time.Second
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

const (
	// DefaultTailLimit is the per-message entry limit requested from the tail endpoint
	DefaultTailLimit = 5000
	// DefaultBatchWindow is the range covered by one polling tick
	DefaultBatchWindow = 10 * time.Second
	// DefaultReconnectDelay is the wait between a stream fault and the next subscription
	DefaultReconnectDelay = 5 * time.Second
)

// BaseConfig is the single configuration structure that all connectors use.
// Connectors should embed this structure with the yaml inline tag.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Type specifies the connector type (e.g., "loki", "postgresql", "s3")
	Type string `yaml:"type" json:"type"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Advanced      AdvancedConfig      `yaml:"advanced" json:"advanced"`
}

// PerformanceConfig controls how much data one upstream request covers.
type PerformanceConfig struct {
	// BatchWindow is the time range of one polling tick, also the tick interval
	BatchWindow time.Duration `yaml:"batch_window" json:"batch_window"`
	// Limit caps the entries returned per tail message or range query (0 = server default)
	Limit int `yaml:"limit" json:"limit"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Connection timeout for the websocket handshake and TCP dial
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Request timeout for one range query
	Request time.Duration `yaml:"request" json:"request"`
	// Read timeout for a single tail message (0 = wait forever)
	Read time.Duration `yaml:"read" json:"read"`
}

// ReliabilityConfig controls reconnect behaviour and request pacing.
type ReliabilityConfig struct {
	// ReconnectDelay is the wait after a stream fault before resubscribing
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	// ReconnectMaxDelay caps the delay when ReconnectMultiplier > 1
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" json:"reconnect_max_delay"`
	// ReconnectMultiplier grows the delay after each consecutive fault (1 = fixed)
	ReconnectMultiplier float64 `yaml:"reconnect_multiplier" json:"reconnect_multiplier"`
	// ReconnectMaxAttempts stops the connector after that many consecutive faults (0 = unbounded)
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts" json:"reconnect_max_attempts"`
	// ReconnectJitter randomizes each delay by up to this fraction (0 = none)
	ReconnectJitter float64 `yaml:"reconnect_jitter" json:"reconnect_jitter"`
	// RateLimitPerSec limits range queries per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// SecurityConfig contains TLS settings and connector credentials.
type SecurityConfig struct {
	// TLSSkipVerify disables certificate verification (insecure)
	TLSSkipVerify bool `yaml:"tls_skip_verify" json:"tls_skip_verify"`
	// ForceTLS always upgrades the tail endpoint to wss regardless of scheme.
	// When false, http endpoints tail over plain ws and https over wss.
	ForceTLS bool `yaml:"force_tls" json:"force_tls"`
	// Credentials stores connector settings such as DSNs and bucket names (use env vars in production)
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsAddr is the listen address of the prometheus endpoint ("" = disabled)
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates span export
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// AdvancedConfig contains optional sink-side features.
type AdvancedConfig struct {
	// CompressionAlgorithm selects object compression (none, gzip, snappy, lz4, zstd, s2, deflate)
	CompressionAlgorithm string `yaml:"compression_algorithm" json:"compression_algorithm"`
	// CompressionLevel selects speed vs ratio (fastest, default, better, best)
	CompressionLevel string `yaml:"compression_level" json:"compression_level"`
}

// NewBaseConfig creates a new BaseConfig with defaults matching Loki's
// tail and query_range behaviour.
//
// Example:
//
//	cfg := config.NewBaseConfig("loki", "source")
//	cfg.Reliability.ReconnectMaxAttempts = 10
func NewBaseConfig(name, connectorType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
		Performance: PerformanceConfig{
			BatchWindow: DefaultBatchWindow,
			Limit:       DefaultTailLimit,
		},
		Timeouts: TimeoutConfig{
			Connection: 10 * time.Second,
			Request:    30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			ReconnectDelay:      DefaultReconnectDelay,
			ReconnectMaxDelay:   time.Minute,
			ReconnectMultiplier: 1.0,
		},
		Security: SecurityConfig{
			Credentials: make(map[string]string),
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingSampleRate: 0.1,
		},
		Advanced: AdvancedConfig{
			CompressionAlgorithm: "none",
			CompressionLevel:     "default",
		},
	}
}

// Validate checks required fields and ranges.
// Connectors should call this after loading configuration to catch errors early.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if bc.Type == "" {
		return fmt.Errorf("type is required")
	}
	if bc.Performance.BatchWindow <= 0 {
		return fmt.Errorf("batch_window must be positive")
	}
	if bc.Performance.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if bc.Reliability.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect_delay cannot be negative")
	}
	if bc.Reliability.ReconnectMultiplier != 0 && bc.Reliability.ReconnectMultiplier < 1 {
		return fmt.Errorf("reconnect_multiplier must be at least 1")
	}
	if bc.Reliability.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("reconnect_max_attempts cannot be negative")
	}
	if bc.Reliability.ReconnectJitter < 0 || bc.Reliability.ReconnectJitter >= 1 {
		return fmt.Errorf("reconnect_jitter must be in [0, 1)")
	}
	if bc.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	if r := bc.Observability.TracingSampleRate; r < 0 || r > 1 {
		return fmt.Errorf("tracing_sample_rate must be in [0, 1]")
	}
	return nil
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}

// Credential returns the named credential, or def when it is unset or empty
func (s *SecurityConfig) Credential(key, def string) string {
	if v, ok := s.Credentials[key]; ok && v != "" {
		return v
	}
	return def
}

// HasCredentials returns true if credentials are configured
func (s *SecurityConfig) HasCredentials() bool {
	return len(s.Credentials) > 0
}

// IsCompressionEnabled returns true if sink objects should be compressed
func (a *AdvancedConfig) IsCompressionEnabled() bool {
	return a.CompressionAlgorithm != "" && a.CompressionAlgorithm != "none"
}
