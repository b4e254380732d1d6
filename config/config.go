// Package config loads configuration for the three demo binaries from file,
// environment and defaults via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the issuer, the protected API and the
// client agent. Each binary reads the subset it needs.
type Config struct {
	// Issuer settings.
	IssuerAddr       string `mapstructure:"ISSUER_ADDR"`
	IssuerURL        string `mapstructure:"ISSUER_URL"`
	SessionTTLHours  int    `mapstructure:"SESSION_TTL_HOURS"`
	FlowTTLMinutes   int    `mapstructure:"FLOW_TTL_MINUTES"`
	ClockSkewSeconds int    `mapstructure:"CLOCK_SKEW_SECONDS"`

	// Optional Redis backing for sessions and the revocation denylist.
	// Empty means in-memory stores.
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`

	// Protected API settings.
	APIAddr     string `mapstructure:"API_ADDR"`
	APIResource string `mapstructure:"API_RESOURCE"`

	// Agent settings.
	ClientID              string `mapstructure:"CLIENT_ID"`
	RedirectURI           string `mapstructure:"REDIRECT_URI"`
	PostLogoutRedirectURI string `mapstructure:"POST_LOGOUT_REDIRECT_URI"`
	Scope                 string `mapstructure:"SCOPE"`
	APIBaseURL            string `mapstructure:"API_BASE_URL"`
	MonitorIntervalSec    int    `mapstructure:"MONITOR_INTERVAL_SEC"`

	// Logging.
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// Load reads configuration from an optional config.yaml, environment
// variables and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("ISSUER_ADDR", ":5000")
	v.SetDefault("ISSUER_URL", "http://localhost:5000")
	v.SetDefault("SESSION_TTL_HOURS", 24)
	v.SetDefault("FLOW_TTL_MINUTES", 10)
	v.SetDefault("CLOCK_SKEW_SECONDS", 300)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PREFIX", "idp")
	v.SetDefault("API_ADDR", ":5001")
	v.SetDefault("API_RESOURCE", "api1")
	v.SetDefault("CLIENT_ID", "js")
	v.SetDefault("REDIRECT_URI", "http://localhost:5003/callback.html")
	v.SetDefault("POST_LOGOUT_REDIRECT_URI", "http://localhost:5003/index.html")
	v.SetDefault("SCOPE", "openid profile api1")
	v.SetDefault("API_BASE_URL", "http://localhost:5001")
	v.SetDefault("MONITOR_INTERVAL_SEC", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
