package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/ganglion/pkg/ganglion"
)

// ErrConnectionLost indicates the board link dropped while streaming and was
// not recovered.
var ErrConnectionLost = errors.New("connection lost")

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream [board-name]",
	Short: "Stream samples from a board",
	Long: `Connects to the first board matching the name (or the configured prefix),
starts streaming and prints decoded events until the duration elapses or
Ctrl+C is pressed.

Examples:
  # Stream for 10 seconds as JSON lines
  ganglion stream --duration 10s --format json

  # Stream raw counts with the accelerometer enabled through a BLED112 dongle
  ganglion stream Ganglion-1a2b --counts --accel --port /dev/ttyACM0`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

var (
	streamDuration  time.Duration
	streamFormat    string
	streamAccel     bool
	streamSynthetic bool
	streamCounts    bool
	streamReconnect bool
	streamDump      bool
)

func init() {
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stream duration (0 for until Ctrl+C)")
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", "text", "Output format (text, json)")
	streamCmd.Flags().BoolVar(&streamAccel, "accel", false, "Enable the accelerometer")
	streamCmd.Flags().BoolVar(&streamSynthetic, "synthetic", false, "Stream the board's synthetic test signal")
	streamCmd.Flags().BoolVar(&streamCounts, "counts", false, "Report raw counts instead of volts and g")
	streamCmd.Flags().BoolVar(&streamReconnect, "reconnect", false, "Reconnect and resume after an unexpected disconnect")
	streamCmd.Flags().BoolVar(&streamDump, "dump-frames", false, "Print the most recent raw frames on exit")
}

func runStream(cmd *cobra.Command, args []string) error {
	printer, err := newEventPrinter(cmd.OutOrStdout(), streamFormat)
	if err != nil {
		return err
	}
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	applyBoardArg(cfg, args)
	if cmd.Flags().Changed("counts") {
		cfg.SendCounts = streamCounts
	}
	if cmd.Flags().Changed("reconnect") {
		cfg.AutoReconnect = streamReconnect
	}

	cmd.SilenceUsage = true

	sess, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := commandContext(cmd, 0)
	defer cancel()

	if _, err := connectBoard(ctx, sess, cfg, cmd.ErrOrStderr()); err != nil {
		return err
	}

	if streamSynthetic {
		if err := sess.SyntheticDataEnable(ctx); err != nil {
			return err
		}
	}
	if streamAccel {
		if err := sess.AccelStart(ctx); err != nil {
			return err
		}
	}
	if err := sess.StreamStart(ctx); err != nil {
		return err
	}

	runErr := pumpEvents(ctx, sess, printer, streamDuration, cfg.AutoReconnect)

	if err := sess.Disconnect(context.Background(), true); err != nil && runErr == nil {
		logger.WithError(err).Warn("Disconnect failed")
	}

	stats := sess.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "Received %d frames, %d samples, %d dropped packets, %d invalid frames\n",
		stats.FramesReceived, stats.Samples, stats.DroppedPackets, stats.ProtocolErrors)
	if streamDump {
		for _, frame := range sess.RecentFrames() {
			fmt.Fprintf(cmd.ErrOrStderr(), "frame % x\n", frame)
		}
	}
	return runErr
}

// pumpEvents prints events until ctx ends, duration elapses or the link is
// lost for good.
func pumpEvents(ctx context.Context, sess *ganglion.Session, printer *eventPrinter, duration time.Duration, reconnect bool) error {
	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case ev, ok := <-sess.Events():
			if !ok {
				return ErrConnectionLost
			}
			if err := printer.Print(ev); err != nil {
				return err
			}
			if closed, isClose := ev.(ganglion.CloseEvent); isClose && !closed.Manual && !reconnect {
				return fmt.Errorf("%w: %s", ErrConnectionLost, closed.Reason)
			}
		}
	}
}
