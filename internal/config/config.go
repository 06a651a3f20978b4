// Package config provides the configuration schema and loader for the
// FluentLoop server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the FluentLoop server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for FluentLoop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Quota   QuotaConfig   `yaml:"quota"`
	Session SessionConfig `yaml:"session"`
	Scoring ScoringConfig `yaml:"scoring"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig points at the certificate pair used for HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// QuotaConfig controls daily usage accounting.
type QuotaConfig struct {
	// PostgresDSN is the connection string for the usage store. When empty
	// the server falls back to the in-memory store and usage does not
	// survive restarts.
	PostgresDSN string `yaml:"postgres_dsn"`

	// DailyAllowanceSeconds is each user's daily practice budget.
	// Default 600 (ten minutes).
	DailyAllowanceSeconds int64 `yaml:"daily_allowance_seconds"`
}

// SessionConfig shapes the practice sessions the server runs.
type SessionConfig struct {
	// Language is the recognition language tag, e.g. "en-US".
	Language string `yaml:"language"`

	// Greeting overrides the opening coach utterance.
	Greeting string `yaml:"greeting"`

	// ScoringTimeout bounds each scoring round trip. Default 30s.
	ScoringTimeout Duration `yaml:"scoring_timeout"`

	// ResumeDelay is the microphone turnaround pause after the coach stops
	// speaking. Default 250ms.
	ResumeDelay Duration `yaml:"resume_delay"`

	// Voice selects the synthesis voice.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig selects the synthesis voice.
type VoiceConfig struct {
	Name string `yaml:"name"`

	// Rate is the speech rate factor; valid range [0.5, 2.0]; 0 means the
	// engine default.
	Rate float64 `yaml:"rate"`

	// Pitch is the pitch factor; valid range [0.5, 2.0]; 0 means the
	// engine default.
	Pitch float64 `yaml:"pitch"`
}

// ScoringConfig points at the remote scoring endpoint.
type ScoringConfig struct {
	// EndpointURL receives the conversation and returns replies and scores.
	// Required.
	EndpointURL string `yaml:"endpoint_url"`

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string `yaml:"api_key"`
}
