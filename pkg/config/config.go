// Package config holds the driver's configuration surface: defaults, YAML
// file loading, validation and the logger factory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/protocol"
	"gopkg.in/yaml.v3"
)

// TransportKind selects the link implementation.
type TransportKind string

const (
	TransportBLE     TransportKind = "ble"     // host's native BLE stack
	TransportBLED112 TransportKind = "bled112" // serial-attached BLED112 dongle
)

// Config holds driver configuration
type Config struct {
	Transport  TransportKind `yaml:"transport" default:"ble"`
	SerialPort string        `yaml:"serial_port"`
	SerialBaud int           `yaml:"serial_baud" default:"256000"`

	// SendCounts reports raw counts instead of volts and g.
	SendCounts bool `yaml:"send_counts"`

	Verbose  bool   `yaml:"verbose"`
	LogLevel string `yaml:"log_level" default:"info"`

	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" default:"3"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"1s"`

	SearchTimeout  time.Duration `yaml:"search_timeout" default:"20s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	NamePrefix     string        `yaml:"name_prefix" default:"Ganglion"`

	AccelEmitPolicy string `yaml:"accel_emit_policy" default:"every"`
	AccelEmitEvery  int    `yaml:"accel_emit_every" default:"1"`

	// EventBuffer is the capacity of the session's event queue.
	EventBuffer int `yaml:"event_buffer" default:"1024"`

	// FrameHistory is how many recent raw frames are kept for diagnostics.
	FrameHistory int `yaml:"frame_history" default:"64"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued option with its default.
func (c *Config) ApplyDefaults() {
	defaults.SetDefaults(c)
}

// Load reads a YAML configuration file. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option values and their combinations.
func (c *Config) Validate() error {
	var problems []string

	switch c.Transport {
	case TransportBLE:
	case TransportBLED112:
		if strings.TrimSpace(c.SerialPort) == "" {
			problems = append(problems, "serial_port is required for the bled112 transport")
		}
		if c.SerialBaud <= 0 {
			problems = append(problems, "serial_baud must be positive")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown transport %q (want %q or %q)", c.Transport, TransportBLE, TransportBLED112))
	}

	if _, err := protocol.ParseAccelEmitPolicy(c.AccelEmitPolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if c.AccelEmitEvery < 1 {
		problems = append(problems, "accel_emit_every must be at least 1")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.SearchTimeout <= 0 {
		problems = append(problems, "search_timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		problems = append(problems, "connect_timeout must be positive")
	}
	if c.EventBuffer < 1 {
		problems = append(problems, "event_buffer must be at least 1")
	}
	if c.FrameHistory < 0 {
		problems = append(problems, "frame_history must not be negative")
	}
	if c.ReconnectAttempts < 0 {
		problems = append(problems, "reconnect_attempts must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// AccelPolicy returns the parsed accelerometer emit policy.
func (c *Config) AccelPolicy() protocol.AccelEmitPolicy {
	p, err := protocol.ParseAccelEmitPolicy(c.AccelEmitPolicy)
	if err != nil {
		return protocol.AccelEmitEveryUpdate
	}
	return p
}

// Level returns the effective log level. Verbose raises it to at least debug.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if c.Verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
