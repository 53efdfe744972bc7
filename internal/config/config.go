// Package config loads the CLI's runtime configuration from a YAML file
// and NDGR_-prefixed environment variables, and hot-reloads the optional
// channel-alias override file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the CLI/runtime configuration. Every field has a sensible
// default; the zero config streams anonymously against production.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // console or json
	QueueSize int    `mapstructure:"queue_size"`

	WatchBase   string `mapstructure:"watch_base"`
	ChannelBase string `mapstructure:"channel_base"`
	CASBase     string `mapstructure:"cas_base"`
	AccountBase string `mapstructure:"account_base"`

	// AliasFile points at a YAML map of alias -> channel handle that
	// overrides the built-in table. Watched for changes while running.
	AliasFile string `mapstructure:"alias_file"`

	// Credentials for timeshift access. Prefer the environment
	// (NDGR_MAIL / NDGR_PASSWORD) over the file.
	Mail     string `mapstructure:"mail"`
	Password string `mapstructure:"password"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NDGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key gets a default so AutomaticEnv can see it during
	// Unmarshal.
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("queue_size", 256)
	v.SetDefault("watch_base", "")
	v.SetDefault("channel_base", "")
	v.SetDefault("cas_base", "")
	v.SetDefault("account_base", "")
	v.SetDefault("alias_file", "")
	v.SetDefault("mail", "")
	v.SetDefault("password", "")
	v.SetDefault("otlp_endpoint", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("queue_size must be non-negative, got %d", cfg.QueueSize)
	}
	return &cfg, nil
}
