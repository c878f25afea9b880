package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Models   []string       `mapstructure:"models"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// UpstreamConfig locates the OpenAI-compatible completion API.
type UpstreamConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// RequestTimeout bounds a single upstream call, in seconds.
	RequestTimeout int `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Timeout returns the upstream request timeout as a duration.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.RequestTimeout) * time.Second
}

// Load reads configuration from the file named by FLUXCHAT_CONFIG, falling
// back to config.yaml in the working directory. FLUXCHAT_API_KEY overrides
// the configured credential so it can stay out of the file.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("FLUXCHAT_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetDefault("server.address", ":8000")
	v.SetDefault("upstream.base_url", "https://api.openai.com")
	v.SetDefault("upstream.request_timeout", 120)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("FLUXCHAT_API_KEY"); key != "" {
		cfg.Upstream.APIKey = key
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url must be configured")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one model must be configured")
	}
	return &cfg, nil
}
