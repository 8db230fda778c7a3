package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ganglion",
	Short: "Ganglion bio-signal board CLI",
	Long: `Command-line driver for the Ganglion 4-channel bio-signal board.

- Scan for nearby boards
- Stream decoded samples, accelerometer and impedance readings
- Send board commands (accelerometer, synthetic data, channels, reset)

Boards are reached through the native Bluetooth stack or a BLED112 USB dongle
(--transport bled112 --port /dev/ttyACM0).`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", formatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(impedanceCmd)
	rootCmd.AddCommand(sendCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("transport", "", "Transport: ble or bled112")
	flags.String("port", "", "Serial port of the BLED112 dongle")
	flags.Int("baud", 0, "Serial baud rate of the BLED112 dongle")
	flags.String("prefix", "", "Advertised name prefix to search for")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Bool("verbose", false, "Verbose logging, including raw frames")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
