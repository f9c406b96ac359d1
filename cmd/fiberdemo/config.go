package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drives the demo. Zero values fall back to defaultConfig.
type Config struct {
	Workers        int           `yaml:"workers"`
	PoolQueueSize  int           `yaml:"pool_queue_size"`
	FiberQueue     int           `yaml:"fiber_queue_depth"`
	Producers      int           `yaml:"producers"`
	Messages       int           `yaml:"messages"`
	BatchInterval  time.Duration `yaml:"batch_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PanicPolicy    string        `yaml:"panic_policy"`
	LogLevel       string        `yaml:"log_level"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

func defaultConfig() Config {
	return Config{
		Workers:        4,
		Producers:      4,
		Messages:       1000,
		BatchInterval:  20 * time.Millisecond,
		RequestTimeout: time.Second,
		PanicPolicy:    "log-and-continue",
		LogLevel:       "info",
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be > 0, got %d", c.Workers)
	case c.Producers <= 0:
		return fmt.Errorf("producers must be > 0, got %d", c.Producers)
	case c.Messages < 0:
		return fmt.Errorf("messages must be >= 0, got %d", c.Messages)
	case c.PoolQueueSize < 0 || c.FiberQueue < 0:
		return fmt.Errorf("queue sizes must be >= 0")
	case c.BatchInterval < 0 || c.RequestTimeout < 0:
		return fmt.Errorf("durations must be >= 0")
	}
	if _, err := c.policy(); err != nil {
		return err
	}
	return nil
}
