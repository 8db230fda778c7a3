package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ganglion/pkg/config"
	"github.com/srg/ganglion/pkg/ganglion"
)

// openSession is replaced in tests to run commands against a mock transport.
var openSession = func(cfg *config.Config, logger *logrus.Logger) (*ganglion.Session, error) {
	return ganglion.Open(cfg, logger)
}

// commandContext returns a context cancelled by Ctrl+C, SIGTERM or, when
// duration is positive, after duration.
func commandContext(cmd *cobra.Command, duration time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	if duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, duration)
		prev := cancel
		cancel = func() {
			timeoutCancel()
			prev()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// connectBoard searches for the first board matching the configured prefix
// and connects to it.
func connectBoard(ctx context.Context, sess *ganglion.Session, cfg *config.Config, status io.Writer) (ganglion.Peripheral, error) {
	progress := NewCountdownProgressPrinter(status, "Searching for "+cfg.NamePrefix, cfg.SearchTimeout)
	progress.Start()
	rec, err := sess.SearchStart(ctx, cfg.SearchTimeout)
	progress.Stop()
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrNoBoard, err)
	}

	fmt.Fprintf(status, "Connecting to %s (%s)...\n", rec.Name(), rec.ID)
	if err := sess.ConnectPeripheral(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// applyBoardArg narrows the search to a specific board name when one is given.
func applyBoardArg(cfg *config.Config, args []string) {
	if len(args) > 0 && args[0] != "" {
		cfg.NamePrefix = args[0]
	}
}
