package config

import (
	"errors"
	"os"
	"strings"
)

var (
	// ErrNoAPIKey is returned when no Anthropic API key is configured.
	ErrNoAPIKey = errors.New("no Anthropic API key configured")
	// ErrNoSalesforceToken is returned when salesforce_query has no credentials.
	ErrNoSalesforceToken = errors.New("no Salesforce access token configured")
)

// secretKeys are masked whenever settings are printed.
var secretKeys = map[string]bool{
	"anthropic.api_key":       true,
	"salesforce.access_token": true,
}

// IsSecretKey reports whether the value of key must be masked for display.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// resolveSecret returns the env value if set, else the expanded config value.
// Unexpanded ${VAR} references count as unset.
func resolveSecret(envName, configured string) (string, KeySource) {
	if v := os.Getenv(envName); v != "" {
		return v, KeySourceEnv
	}
	if configured != "" {
		v := os.ExpandEnv(configured)
		if v != "" && !strings.HasPrefix(v, "${") {
			return v, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// GetAPIKey returns the Anthropic API key.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	var configured string
	if cfg != nil {
		configured = cfg.Anthropic.APIKey
	}
	key, _ := resolveSecret("ANTHROPIC_API_KEY", configured)
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetSalesforceToken returns the Salesforce access token.
// It checks in order: environment variable, config file.
func GetSalesforceToken(cfg *Config) (string, error) {
	var configured string
	if cfg != nil {
		configured = cfg.Salesforce.AccessToken
	}
	token, _ := resolveSecret("SALESFORCE_ACCESS_TOKEN", configured)
	if token == "" {
		return "", ErrNoSalesforceToken
	}
	return token, nil
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	// Anthropic API keys start with "sk-ant-"
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of a secret for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where a secret was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the Anthropic API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	var configured string
	if cfg != nil {
		configured = cfg.Anthropic.APIKey
	}
	_, source := resolveSecret("ANTHROPIC_API_KEY", configured)
	return source
}
