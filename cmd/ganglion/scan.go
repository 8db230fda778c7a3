package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Ganglion boards",
	Long: `Scan for boards whose advertised name starts with the configured prefix
(Ganglion by default) and list them with their address and signal strength.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	sess, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := commandContext(cmd, 0)
	defer cancel()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for "+cfg.NamePrefix, scanDuration)
	progress.Start()
	found, err := sess.Discover(ctx, scanDuration)
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Scan failed")
		return err
	}

	if scanFormat == "json" {
		return printPeripheralJSON(cmd.OutOrStdout(), found)
	}
	return printPeripheralTable(cmd.OutOrStdout(), found)
}
