package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/solatis/patchwire/internal/retry"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence. A .env file in the working
// directory is loaded into the environment first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: &HubServerConfig{
			Host:              v.GetString("hub_server.host"),
			Port:              v.GetInt("hub_server.port"),
			GRPCPort:          v.GetInt("hub_server.grpc_port"),
			Path:              v.GetString("hub_server.path"),
			MaxMessageSize:    v.GetInt64("hub_server.max_message_size"),
			InvocationTimeout: v.GetDuration("hub_server.invocation_timeout"),
			KeepAliveInterval: v.GetDuration("hub_server.keep_alive_interval"),
			ClientTimeout:     v.GetDuration("hub_server.client_timeout"),
			RequireAuth:       v.GetBool("hub_server.require_auth"),
		},
		Client: &HubClientConfig{
			URL:                  v.GetString("hub_client.url"),
			ReconnectPolicy:      v.GetString("hub_client.reconnect_policy"),
			ConnectionTimeout:    v.GetDuration("hub_client.connection_timeout"),
			InvocationTimeout:    v.GetDuration("hub_client.invocation_timeout"),
			KeepAliveInterval:    v.GetDuration("hub_client.keep_alive_interval"),
			ServerTimeout:        v.GetDuration("hub_client.server_timeout"),
			DebugLogging:         v.GetBool("hub_client.debug_logging"),
			MinConfidence:        v.GetFloat64("hub_client.min_confidence"),
			PredictionMaxEntries: v.GetInt("hub_client.prediction_max_entries"),
			PredictionMaxAge:     v.GetDuration("hub_client.prediction_max_age"),
		},
		DatabaseURL: v.GetString("database_url"),
	}

	if err := validateServerConfig(cfg.Server); err != nil {
		return nil, err
	}
	if err := validateClientConfig(cfg.Client); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults mirrors DefaultHubServerConfig and DefaultHubClientConfig.
func setDefaults(v *viper.Viper) {
	s := DefaultHubServerConfig()
	v.SetDefault("hub_server.host", s.Host)
	v.SetDefault("hub_server.port", s.Port)
	v.SetDefault("hub_server.grpc_port", s.GRPCPort)
	v.SetDefault("hub_server.path", s.Path)
	v.SetDefault("hub_server.max_message_size", s.MaxMessageSize)
	v.SetDefault("hub_server.invocation_timeout", s.InvocationTimeout.String())
	v.SetDefault("hub_server.keep_alive_interval", s.KeepAliveInterval.String())
	v.SetDefault("hub_server.client_timeout", s.ClientTimeout.String())
	v.SetDefault("hub_server.require_auth", s.RequireAuth)

	c := DefaultHubClientConfig()
	v.SetDefault("hub_client.url", c.URL)
	v.SetDefault("hub_client.reconnect_policy", c.ReconnectPolicy)
	v.SetDefault("hub_client.connection_timeout", c.ConnectionTimeout.String())
	v.SetDefault("hub_client.invocation_timeout", c.InvocationTimeout.String())
	v.SetDefault("hub_client.keep_alive_interval", c.KeepAliveInterval.String())
	v.SetDefault("hub_client.server_timeout", c.ServerTimeout.String())
	v.SetDefault("hub_client.debug_logging", c.DebugLogging)
	v.SetDefault("hub_client.min_confidence", c.MinConfidence)
	v.SetDefault("hub_client.prediction_max_entries", c.PredictionMaxEntries)
	v.SetDefault("hub_client.prediction_max_age", c.PredictionMaxAge.String())

	v.SetDefault("database_url", "")
}

// validateServerConfig checks port ranges, path shape, and positive sizes and timeouts.
func validateServerConfig(cfg *HubServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.GRPCPort < 0 || cfg.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be between 0 and 65535, got %d", cfg.GRPCPort)
	}
	if cfg.GRPCPort != 0 && cfg.GRPCPort == cfg.Port {
		return fmt.Errorf("grpc_port must differ from port, both are %d", cfg.Port)
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("path must start with /, got %q", cfg.Path)
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", cfg.MaxMessageSize)
	}
	if cfg.InvocationTimeout <= 0 {
		return fmt.Errorf("invocation_timeout must be positive, got %v", cfg.InvocationTimeout)
	}
	if cfg.KeepAliveInterval < 0 {
		return fmt.Errorf("keep_alive_interval must not be negative, got %v", cfg.KeepAliveInterval)
	}
	if cfg.ClientTimeout < 0 {
		return fmt.Errorf("client_timeout must not be negative, got %v", cfg.ClientTimeout)
	}
	if cfg.ClientTimeout > 0 && cfg.KeepAliveInterval >= cfg.ClientTimeout {
		return fmt.Errorf("client_timeout (%v) must exceed keep_alive_interval (%v)", cfg.ClientTimeout, cfg.KeepAliveInterval)
	}
	return nil
}

// validateClientConfig checks the URL scheme, the reconnect policy, and cache bounds.
func validateClientConfig(cfg *HubClientConfig) error {
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return fmt.Errorf("url must use ws:// or wss://, got %q", cfg.URL)
	}
	if _, err := retry.Parse(cfg.ReconnectPolicy); err != nil {
		return fmt.Errorf("reconnect_policy: %w", err)
	}
	if cfg.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive, got %v", cfg.ConnectionTimeout)
	}
	if cfg.InvocationTimeout <= 0 {
		return fmt.Errorf("invocation_timeout must be positive, got %v", cfg.InvocationTimeout)
	}
	if cfg.KeepAliveInterval < 0 || cfg.ServerTimeout < 0 {
		return fmt.Errorf("keep_alive_interval and server_timeout must not be negative")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", cfg.MinConfidence)
	}
	if cfg.PredictionMaxEntries <= 0 {
		return fmt.Errorf("prediction_max_entries must be positive, got %d", cfg.PredictionMaxEntries)
	}
	if cfg.PredictionMaxAge < 0 {
		return fmt.Errorf("prediction_max_age must not be negative, got %v", cfg.PredictionMaxAge)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets. Only keys read from the
// file count; IsSet would also see the PW_ variables bound by AutomaticEnv.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range []string{"hmac_secret", "hub_server.hmac_secret"} {
		if v.InConfig(key) {
			return fmt.Errorf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", EnvPrefix)
		}
	}
	for _, key := range []string{"client_token", "hub_client.client_token", "hub_client.token"} {
		if v.InConfig(key) {
			return fmt.Errorf("client tokens not allowed in config files (use %s_CLIENT_TOKEN environment variable)", EnvPrefix)
		}
	}
	return nil
}
