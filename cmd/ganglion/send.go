package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/ganglion/pkg/ganglion"
)

// boardAction runs one board command. arg is the optional channel number.
type boardAction struct {
	needsChannel bool
	run          func(ctx context.Context, s *ganglion.Session, channel int) error
}

var boardActions = map[string]boardAction{
	"accel-on":      {run: func(ctx context.Context, s *ganglion.Session, _ int) error { return s.AccelStart(ctx) }},
	"accel-off":     {run: func(ctx context.Context, s *ganglion.Session, _ int) error { return s.AccelStop(ctx) }},
	"synthetic-on":  {run: func(ctx context.Context, s *ganglion.Session, _ int) error { return s.SyntheticDataEnable(ctx) }},
	"synthetic-off": {run: func(ctx context.Context, s *ganglion.Session, _ int) error { return s.SyntheticDataDisable(ctx) }},
	"reset":         {run: func(ctx context.Context, s *ganglion.Session, _ int) error { return s.SoftReset(ctx) }},
	"registers":     {run: func(ctx context.Context, s *ganglion.Session, _ int) error { return s.RegisterDump(ctx) }},
	"channel-on": {needsChannel: true, run: func(ctx context.Context, s *ganglion.Session, ch int) error {
		return s.ChannelOn(ctx, ch)
	}},
	"channel-off": {needsChannel: true, run: func(ctx context.Context, s *ganglion.Session, ch int) error {
		return s.ChannelOff(ctx, ch)
	}},
}

func boardActionNames() string {
	names := make([]string, 0, len(boardActions))
	for name := range boardActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <command> [channel]",
	Short: "Send a command to a board",
	Long: fmt.Sprintf(`Connects to the first matching board, sends one command and prints any
text the board replies with during the wait window.

Commands: %s

Examples:
  ganglion send channel-off 3
  ganglion send registers --wait 2s`, boardActionNames()),
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

var (
	sendBoard string
	sendWait  time.Duration
)

func init() {
	sendCmd.Flags().StringVar(&sendBoard, "board", "", "Board name (defaults to the configured prefix)")
	sendCmd.Flags().DurationVar(&sendWait, "wait", time.Second, "How long to print board replies after sending")
}

func parseSendArgs(args []string) (boardAction, int, error) {
	action, ok := boardActions[args[0]]
	if !ok {
		return boardAction{}, 0, fmt.Errorf("unknown command %q: must be one of %s", args[0], boardActionNames())
	}
	if !action.needsChannel {
		if len(args) > 1 {
			return boardAction{}, 0, fmt.Errorf("command %q takes no channel", args[0])
		}
		return action, 0, nil
	}
	if len(args) < 2 {
		return boardAction{}, 0, fmt.Errorf("command %q needs a channel (1-4)", args[0])
	}
	ch, err := strconv.Atoi(args[1])
	if err != nil || ch < 1 || ch > 4 {
		return boardAction{}, 0, fmt.Errorf("invalid channel %q: %w", args[1], ganglion.ErrInvalidChannel)
	}
	return action, ch, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	action, channel, err := parseSendArgs(args)
	if err != nil {
		return err
	}
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if sendBoard != "" {
		applyBoardArg(cfg, []string{sendBoard})
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
	if err := action.run(ctx, sess, channel); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Sent %s\n", args[0])

	printer, _ := newEventPrinter(cmd.OutOrStdout(), "text")
	timer := time.NewTimer(sendWait)
	defer timer.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-timer.C:
			break wait
		case ev, ok := <-sess.Events():
			if !ok {
				break wait
			}
			if msg, isMessage := ev.(ganglion.MessageEvent); isMessage {
				if err := printer.Print(msg); err != nil {
					return err
				}
			}
		}
	}

	return sess.Disconnect(context.Background(), false)
}
