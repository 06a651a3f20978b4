package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Quota
	if cfg.Quota.DailyAllowanceSeconds < 0 {
		errs = append(errs, fmt.Errorf("quota.daily_allowance_seconds %d must not be negative", cfg.Quota.DailyAllowanceSeconds))
	}
	if cfg.Quota.PostgresDSN == "" {
		slog.Warn("quota.postgres_dsn is empty; usage will be tracked in memory and lost on restart")
	}

	// Session
	if cfg.Session.ScoringTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.scoring_timeout %s must not be negative", cfg.Session.ScoringTimeout.Std()))
	}
	if cfg.Session.ResumeDelay < 0 {
		errs = append(errs, fmt.Errorf("session.resume_delay %s must not be negative", cfg.Session.ResumeDelay.Std()))
	}
	if r := cfg.Session.Voice.Rate; r != 0 && (r < 0.5 || r > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.rate %.2f is out of range [0.5, 2.0]", r))
	}
	if p := cfg.Session.Voice.Pitch; p != 0 && (p < 0.5 || p > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.pitch %.2f is out of range [0.5, 2.0]", p))
	}

	// Scoring
	if cfg.Scoring.EndpointURL == "" {
		errs = append(errs, errors.New("scoring.endpoint_url is required"))
	}

	return errors.Join(errs...)
}
