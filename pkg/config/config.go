package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Session   SessionConfig   `mapstructure:"session"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds connection settings for the ai-sarbaz backend
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChatConfig holds chat and model settings
type ChatConfig struct {
	Model           string   `mapstructure:"model"`
	Models          []string `mapstructure:"models"`
	SystemRole      string   `mapstructure:"system_role"`
	PageSize        int      `mapstructure:"page_size"`
	HistoryPageSize int      `mapstructure:"history_page_size"`
}

// HeartbeatConfig holds liveness monitoring settings.
// MaxReconnects of 0 means the monitor retries forever at the fixed backoff.
type HeartbeatConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
}

// SessionConfig holds streaming exchange settings
type SessionConfig struct {
	FinalizeDelay time.Duration `mapstructure:"finalize_delay"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile string `mapstructure:"log_file"`
	Persist bool   `mapstructure:"persist"`
	Level   string `mapstructure:"level"`
}

var global *Config

// SetDefaults registers default values on the given viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.timeout", 60*time.Second)

	v.SetDefault("chat.model", "llama3.2:3b")
	v.SetDefault("chat.models", []string{"llama3.2:3b", "llama3.2:8b", "llama3.2:70b", "mistral"})
	v.SetDefault("chat.system_role", "helpful assistant")
	v.SetDefault("chat.page_size", 50)
	v.SetDefault("chat.history_page_size", 20)

	v.SetDefault("heartbeat.check_interval", 15*time.Second)
	v.SetDefault("heartbeat.stale_after", 30*time.Second)
	v.SetDefault("heartbeat.reconnect_backoff", 3*time.Second)
	v.SetDefault("heartbeat.max_reconnects", 0)

	v.SetDefault("session.finalize_delay", 500*time.Millisecond)

	v.SetDefault("logging.log_file", "sarbaz.log")
	v.SetDefault("logging.persist", false)
	v.SetDefault("logging.level", "info")
}

// Init loads configuration from the given file (optional), environment
// variables prefixed with SARBAZ, and defaults.
func Init(cfgFile string) error {
	v := viper.GetViper()
	SetDefaults(v)

	v.SetEnvPrefix("SARBAZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".sarbaz"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		return err
	}

	global = cfg
	return nil
}

// FromViper unmarshals a Config from the given viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the global configuration, initializing defaults if Init was
// never called (useful in tests).
func Get() *Config {
	if global == nil {
		v := viper.New()
		SetDefaults(v)
		cfg, err := FromViper(v)
		if err != nil {
			return &Config{}
		}
		global = cfg
	}
	return global
}
