// Package config provides configuration management for the patchwire hub server and
// client.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "PW"

// Config is the full configuration file.
type Config struct {
	Server      *HubServerConfig
	Client      *HubClientConfig
	DatabaseURL string
}

// HubServerConfig holds configuration for the hub websocket server.
type HubServerConfig struct {
	Host              string
	Port              int
	GRPCPort          int
	Path              string
	MaxMessageSize    int64
	InvocationTimeout time.Duration
	KeepAliveInterval time.Duration
	ClientTimeout     time.Duration
	RequireAuth       bool
}

// DefaultHubServerConfig returns configuration with default values.
func DefaultHubServerConfig() *HubServerConfig {
	return &HubServerConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		GRPCPort:          50051,
		Path:              "/hub",
		MaxMessageSize:    1 << 20,
		InvocationTimeout: 30 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		ClientTimeout:     30 * time.Second,
		RequireAuth:       true,
	}
}

// Addr returns host:port of the HTTP listener.
func (c *HubServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr returns host:port of the gRPC health listener.
func (c *HubServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// HubClientConfig holds configuration for a hub client connection and its prediction
// cache.
type HubClientConfig struct {
	URL                  string
	ReconnectPolicy      string
	ConnectionTimeout    time.Duration
	InvocationTimeout    time.Duration
	KeepAliveInterval    time.Duration
	ServerTimeout        time.Duration
	DebugLogging         bool
	MinConfidence        float64
	PredictionMaxEntries int
	PredictionMaxAge     time.Duration
}

// DefaultHubClientConfig returns configuration with default values.
func DefaultHubClientConfig() *HubClientConfig {
	return &HubClientConfig{
		URL:                  "ws://127.0.0.1:8080/hub",
		ReconnectPolicy:      "exponential",
		ConnectionTimeout:    15 * time.Second,
		InvocationTimeout:    30 * time.Second,
		KeepAliveInterval:    15 * time.Second,
		ServerTimeout:        30 * time.Second,
		MinConfidence:        0.5,
		PredictionMaxEntries: 256,
		PredictionMaxAge:     5 * time.Minute,
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports PW_HMAC_SECRET (single) and PW_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s_HMAC_SECRET and %s_HMAC_SECRET_* for conflicts)", secretID, EnvPrefix, EnvPrefix)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	single := EnvPrefix + "_HMAC_SECRET"
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation.
	for i := 1; ; i++ {
		key := fmt.Sprintf("%s_HMAC_SECRET_%d", EnvPrefix, i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ClientToken returns the API key a hub client presents, from PW_CLIENT_TOKEN.
func ClientToken() string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + "_CLIENT_TOKEN"))
}

// ParseHMACSecret decodes base64-encoded HMAC secret from environment variable.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}
