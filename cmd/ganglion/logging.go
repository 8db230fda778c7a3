package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ganglion/pkg/config"
)

// loadSettings builds the driver configuration from --config and the global
// flags, then a logger for it. Flags override the file; --log-level takes
// precedence over --verbose.
func loadSettings(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg := config.DefaultConfig()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		v, _ := flags.GetString("transport")
		cfg.Transport = config.TransportKind(v)
	}
	if flags.Changed("port") {
		cfg.SerialPort, _ = flags.GetString("port")
		if !flags.Changed("transport") {
			cfg.Transport = config.TransportBLED112
		}
	}
	if flags.Changed("baud") {
		cfg.SerialBaud, _ = flags.GetInt("baud")
	}
	if flags.Changed("prefix") {
		cfg.NamePrefix, _ = flags.GetString("prefix")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", cfg.LogLevel)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return cfg, logger, nil
}
