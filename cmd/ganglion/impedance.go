package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/ganglion/pkg/ganglion"
)

// impedanceCmd represents the impedance command
var impedanceCmd = &cobra.Command{
	Use:   "impedance [board-name]",
	Short: "Measure electrode impedance",
	Long: `Connects to a board, runs an impedance check for the given duration and
prints every reading followed by the latest value per channel.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImpedance,
}

var (
	impedanceDuration time.Duration
	impedanceFormat   string
)

func init() {
	impedanceCmd.Flags().DurationVarP(&impedanceDuration, "duration", "d", 10*time.Second, "Measurement duration")
	impedanceCmd.Flags().StringVarP(&impedanceFormat, "format", "f", "text", "Output format (text, json)")
}

func runImpedance(cmd *cobra.Command, args []string) error {
	printer, err := newEventPrinter(cmd.OutOrStdout(), impedanceFormat)
	if err != nil {
		return err
	}
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	applyBoardArg(cfg, args)

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
	if err := sess.ImpedanceStart(ctx); err != nil {
		return err
	}

	latest := make(map[int]int)
	timer := time.NewTimer(impedanceDuration)
	defer timer.Stop()

	runErr := func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
				return nil
			case ev, ok := <-sess.Events():
				if !ok {
					return ErrConnectionLost
				}
				imp, isImpedance := ev.(ganglion.ImpedanceEvent)
				if !isImpedance {
					continue
				}
				latest[imp.Impedance.ChannelNumber] = imp.Impedance.ImpedanceValue
				if err := printer.Print(ev); err != nil {
					return err
				}
			}
		}
	}()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer stopCancel()
	if err := sess.ImpedanceStop(stopCtx); err != nil {
		logger.WithError(err).Warn("Failed to stop impedance measurement")
	}
	if err := sess.Disconnect(stopCtx, false); err != nil {
		logger.WithError(err).Warn("Disconnect failed")
	}

	if runErr != nil {
		return runErr
	}
	if impedanceFormat == "text" {
		return printImpedanceTable(cmd.OutOrStdout(), latest)
	}
	return nil
}
