package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/mcdev12/reverseauction/go/internal/auction/gateway"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the engine tuning file. Every field is optional.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Hub struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"hub"`

	Coordinator coordinator.Config `yaml:"coordinator"`

	Sessions struct {
		PingInterval     time.Duration `yaml:"ping_interval"`
		MissedHeartbeats int           `yaml:"missed_heartbeats"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
	} `yaml:"sessions"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads the YAML file at path. An empty path yields the zero Config, which
// leaves every component on its defaults.
func loadConfig(path string) (*Config, error) {
	var config Config
	if path == "" {
		return &config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

func (c *Config) connectionConfig() gateway.ConnectionConfig {
	cfg := gateway.DefaultConnectionConfig()
	s := c.Sessions
	if s.PingInterval > 0 {
		cfg.PingInterval = s.PingInterval
	}
	if s.MissedHeartbeats > 0 {
		cfg.MissedHeartbeats = s.MissedHeartbeats
	}
	if s.WriteTimeout > 0 {
		cfg.WriteTimeout = s.WriteTimeout
	}
	if s.ReadTimeout > 0 {
		cfg.ReadTimeout = s.ReadTimeout
	}
	if s.RequestTimeout > 0 {
		cfg.RequestTimeout = s.RequestTimeout
	}
	return cfg
}
