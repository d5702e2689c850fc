package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ClientConfig holds all configuration for the client core.
// Tags use mapstructure for Viper unmarshalling.
type ClientConfig struct {
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	Platform   string `mapstructure:"PLATFORM"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// Secure store backing. When REDIS_ADDR is set the redis store is used,
	// otherwise an encrypted file at STORE_PATH keyed from STORE_SECRET.
	StorePath   string `mapstructure:"STORE_PATH"`
	StoreSecret string `mapstructure:"STORE_SECRET"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`

	// Diagnostics HTTP surface. Empty disables it.
	DiagAddr string `mapstructure:"DIAG_ADDR"`

	// Where the platform push token comes from for the daemon: an env var
	// name or a file path. Both empty means no push registration.
	PushTokenEnv  string `mapstructure:"PUSH_TOKEN_ENV"`
	PushTokenFile string `mapstructure:"PUSH_TOKEN_FILE"`

	PushRetryIntervalMin int `mapstructure:"PUSH_RETRY_INTERVAL_MIN"`
	PushRetryWindowHour  int `mapstructure:"PUSH_RETRY_WINDOW_HOUR"`
}

// PushRetryInterval returns the background retry cadence.
func (c *ClientConfig) PushRetryInterval() time.Duration {
	return time.Duration(c.PushRetryIntervalMin) * time.Minute
}

// PushRetryWindow returns the automatic-retry budget measured from the first
// exhausted registration cycle.
func (c *ClientConfig) PushRetryWindow() time.Duration {
	return time.Duration(c.PushRetryWindowHour) * time.Hour
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ClientConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/curaflow/")
	v.AddConfigPath("$HOME/.curaflow")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("API_BASE_URL", "http://localhost:3000")
	v.SetDefault("PLATFORM", "daemon")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("STORE_PATH", "$HOME/.curaflow/store.bin")
	v.SetDefault("STORE_SECRET", "")
	v.SetDefault("REDIS_PREFIX", "appcore")
	v.SetDefault("DIAG_ADDR", "")
	v.SetDefault("PUSH_TOKEN_ENV", "CURAFLOW_PUSH_TOKEN")
	v.SetDefault("PUSH_RETRY_INTERVAL_MIN", 15)
	v.SetDefault("PUSH_RETRY_WINDOW_HOUR", 24)

	if err := v.ReadInConfig(); err != nil {
		// ConfigFileNotFoundError is acceptable, means we use defaults/env vars.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.APIBaseURL = NormalizeBaseURL(cfg.APIBaseURL)
	if cfg.APIBaseURL != "" && !IsSecureBaseURL(cfg.APIBaseURL) {
		log.Warn().Str("url", cfg.APIBaseURL).Msg("insecure API base URL (non-HTTPS outside local network)")
	}

	return &cfg, nil
}

// NormalizeBaseURL strips a trailing slash so paths can be appended verbatim.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(raw, "/")
}

var localHostPattern = regexp.MustCompile(
	`^(localhost|127\.0\.0\.1|10\.|192\.168\.|172\.(1[6-9]|2\d|3[0-1])\.)`)

// IsSecureBaseURL reports whether the base URL is HTTPS or points at a
// local/private host, where cleartext is tolerated for development.
func IsSecureBaseURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme == "https" {
		return true
	}
	return localHostPattern.MatchString(parsed.Hostname())
}
