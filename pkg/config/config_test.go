package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, TransportBLE, cfg.Transport)
	assert.Equal(t, 256000, cfg.SerialBaud)
	assert.False(t, cfg.SendCounts)
	assert.False(t, cfg.AutoReconnect, "auto-reconnect MUST default to off")
	assert.Equal(t, 20*time.Second, cfg.SearchTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "Ganglion", cfg.NamePrefix)
	assert.Equal(t, protocol.AccelEmitEveryUpdate, cfg.AccelPolicy())
	assert.Equal(t, 1, cfg.AccelEmitEvery)
	assert.Equal(t, 1024, cfg.EventBuffer)
	assert.Equal(t, 64, cfg.FrameHistory)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		verbose  bool
		expected logrus.Level
	}{
		{name: "debug level", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "info level", logLevel: "info", expected: logrus.InfoLevel},
		{name: "warn level", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "verbose raises warn to debug", logLevel: "warn", verbose: true, expected: logrus.DebugLevel},
		{name: "verbose keeps trace", logLevel: "trace", verbose: true, expected: logrus.TraceLevel},
		{name: "unparsable level falls back to info", logLevel: "loud", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel, Verbose: tt.verbose}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestParse(t *testing.T) {
	// GOAL: Verify YAML overrides defaults key by key
	//
	// TEST SCENARIO: Partial YAML document → named keys overridden → remaining keys keep defaults

	cfg, err := Parse([]byte(`
transport: bled112
serial_port: /dev/ttyACM0
send_counts: true
auto_reconnect: true
search_timeout: 5s
accel_emit_policy: rotation
`))

	require.NoError(t, err)
	assert.Equal(t, TransportBLED112, cfg.Transport)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialPort)
	assert.True(t, cfg.SendCounts)
	assert.True(t, cfg.AutoReconnect)
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout)
	assert.Equal(t, protocol.AccelEmitFullRotation, cfg.AccelPolicy())
	assert.Equal(t, 256000, cfg.SerialBaud, "unset keys MUST keep defaults")
	assert.Equal(t, "Ganglion", cfg.NamePrefix)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{"unknown key", "colour: blue", "invalid yaml"},
		{"unknown transport", "transport: usb", "unknown transport"},
		{"bled112 without port", "transport: bled112", "serial_port"},
		{"bad accel policy", "accel_emit_policy: sometimes", "emit policy"},
		{"zero nth", "accel_emit_every: 0", "accel_emit_every"},
		{"bad log level", "log_level: loud", "not a valid logrus Level"},
		{"negative timeout", "search_timeout: -1s", "search_timeout"},
		{"negative history", "frame_history: -1", "frame_history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ganglion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name_prefix: Ganglion-1a\nevent_buffer: 16\n"), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "Ganglion-1a", cfg.NamePrefix)
	assert.Equal(t, 16, cfg.EventBuffer)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{NamePrefix: "Custom", SearchTimeout: time.Second}

	cfg.ApplyDefaults()

	assert.Equal(t, "Custom", cfg.NamePrefix, "set values MUST be kept")
	assert.Equal(t, time.Second, cfg.SearchTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 1024, cfg.EventBuffer)
	assert.Equal(t, TransportBLE, cfg.Transport)
}
