package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// secretsOverlay carries the fields that should always be sourced from
// the environment rather than committed to a YAML file on disk, even
// when ${VAR} substitution could technically reach them. It is layered on
// top of the YAML-parsed Config after Load/Reload using caarlos0/env/v11,
// as a secrets-only overlay rather than a replacement for the
// YAML+substitution mechanism.
type secretsOverlay struct {
	StorageDSN   string `env:"SARK_STORAGE_DSN"`
	JWTSecret    string `env:"SARK_JWT_SECRET"`
	RedisAddr    string `env:"SARK_REDIS_ADDR"`
	RemoteURL    string `env:"SARK_POLICY_REMOTE_URL"`
	SplunkToken  string `env:"SARK_SPLUNK_HEC_TOKEN"`
	DatadogKey   string `env:"SARK_DATADOG_API_KEY"`
	SlackWebhook string `env:"SARK_SLACK_WEBHOOK_URL"`
}

// ApplyEnvOverlay overwrites cfg's secret-bearing fields with whatever is
// set in the process environment, leaving cfg untouched field-by-field
// where the corresponding variable is unset.
func ApplyEnvOverlay(cfg *Config) error {
	var overlay secretsOverlay
	if err := env.Parse(&overlay); err != nil {
		return fmt.Errorf("config: parse env overlay: %w", err)
	}

	if overlay.StorageDSN != "" {
		cfg.Storage.DSN = overlay.StorageDSN
	}
	if overlay.RedisAddr != "" {
		cfg.RateLimit.RedisAddr = overlay.RedisAddr
	}
	if overlay.RemoteURL != "" {
		cfg.Policy.RemoteURL = overlay.RemoteURL
	}
	for i := range cfg.AuditSinks {
		sink := &cfg.AuditSinks[i]
		switch sink.Kind {
		case "splunk_hec":
			if overlay.SplunkToken != "" {
				sink.Token = overlay.SplunkToken
			}
		case "datadog":
			if overlay.DatadogKey != "" {
				sink.Token = overlay.DatadogKey
			}
		case "slack":
			if overlay.SlackWebhook != "" {
				sink.Endpoint = overlay.SlackWebhook
			}
		}
	}
	return nil
}

// JWTSecretFromEnv reads SARK_JWT_SECRET directly; it is not part of
// Config because it must never be serialized back out via
// GenerateDefault or any config-dump endpoint.
func JWTSecretFromEnv() (string, error) {
	var overlay struct {
		Secret string `env:"SARK_JWT_SECRET"`
	}
	if err := env.Parse(&overlay); err != nil {
		return "", fmt.Errorf("config: parse SARK_JWT_SECRET: %w", err)
	}
	return overlay.Secret, nil
}
