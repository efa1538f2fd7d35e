package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Output formats for decoded events
const (
	FormatText = "text"
	FormatHex  = "hex"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" default:"5s"`
	MTU            int           `yaml:"mtu" default:"23"` // 0 skips the MTU exchange
	QueueSize      int           `yaml:"queue_size" default:"256"`
	MaxSysExSize   int           `yaml:"max_sysex_size" default:"4096"`
	OutputFormat   string        `yaml:"output_format" default:"text"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return c.Validate()
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	switch c.OutputFormat {
	case FormatText, FormatHex:
	default:
		return fmt.Errorf("unsupported output format %q (use %s or %s)", c.OutputFormat, FormatText, FormatHex)
	}
	if c.MTU != 0 && (c.MTU < 23 || c.MTU > 517) {
		return fmt.Errorf("mtu %d out of range [23, 517]", c.MTU)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.MaxSysExSize <= 0 {
		return fmt.Errorf("max_sysex_size must be positive")
	}
	if c.ScanTimeout < 0 || c.ConnectTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Level returns the configured log level and whether one was set
func (c *Config) Level() (logrus.Level, bool) {
	if c.LogLevel == "" {
		return logrus.PanicLevel, false
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.PanicLevel, false
	}
	return level, true
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, ok := c.Level(); ok {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.PanicLevel)
	}

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
