package config

import "time"

// Config holds client configuration values.
type Config struct {
	// APIBaseURL is the base URL of the league REST API.
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	// APITimeout bounds individual REST calls.
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`

	// DatabasePath is where the local session store lives.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
}

// RealtimeConfig configures the broadcasting transport and its recovery.
type RealtimeConfig struct {
	// Key is the broadcasting application key.
	Key string `mapstructure:"key" yaml:"key"`
	// Cluster selects the broadcasting cluster endpoint.
	Cluster string `mapstructure:"cluster" yaml:"cluster"`
	// Host overrides the cluster-derived endpoint host (self-hosted broadcasters).
	Host string `mapstructure:"host" yaml:"host"`
	// ForceTLS forces wss:// regardless of cluster defaults.
	ForceTLS bool `mapstructure:"force_tls" yaml:"force_tls"`
	// AuthEndpoint signs private-channel subscriptions.
	AuthEndpoint string `mapstructure:"auth_endpoint" yaml:"auth_endpoint"`

	// ReconnectMaxAttempts caps automatic reconnection attempts.
	ReconnectMaxAttempts int `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
	// ReconnectInitialDelay is the first backoff delay; it doubles per attempt.
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay" yaml:"reconnect_initial_delay"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIBaseURL:   "https://api.volleylive.app",
		APITimeout:   15 * time.Second,
		DatabasePath: "volleylive.db",
		LogLevel:     "info",
		Realtime: RealtimeConfig{
			Key:                   "",
			Cluster:               "eu",
			ForceTLS:              true,
			AuthEndpoint:          "https://api.volleylive.app/broadcasting/auth",
			ReconnectMaxAttempts:  5,
			ReconnectInitialDelay: time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.APITimeout != 0 {
		c.APITimeout = other.APITimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Realtime.Key != "" {
		c.Realtime.Key = other.Realtime.Key
	}
	if other.Realtime.Cluster != "" {
		c.Realtime.Cluster = other.Realtime.Cluster
	}
	if other.Realtime.Host != "" {
		c.Realtime.Host = other.Realtime.Host
	}
	if other.Realtime.AuthEndpoint != "" {
		c.Realtime.AuthEndpoint = other.Realtime.AuthEndpoint
	}
	if other.Realtime.ReconnectMaxAttempts != 0 {
		c.Realtime.ReconnectMaxAttempts = other.Realtime.ReconnectMaxAttempts
	}
	if other.Realtime.ReconnectInitialDelay != 0 {
		c.Realtime.ReconnectInitialDelay = other.Realtime.ReconnectInitialDelay
	}
}
