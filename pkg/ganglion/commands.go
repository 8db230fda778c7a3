package ganglion

import (
	"context"

	"github.com/srg/ganglion/internal/protocol"
)

func (s *Session) command(ctx context.Context, name string, cmd byte) error {
	if err := s.Write(ctx, []byte{cmd}); err != nil {
		return err
	}
	s.logger.WithField("command", name).Debug("Board command sent")
	return nil
}

// AccelStart enables the accelerometer.
func (s *Session) AccelStart(ctx context.Context) error {
	return s.command(ctx, "accel_start", protocol.CommandAccelStart)
}

// AccelStop disables the accelerometer.
func (s *Session) AccelStop(ctx context.Context) error {
	return s.command(ctx, "accel_stop", protocol.CommandAccelStop)
}

// ImpedanceStart starts impedance measurement. Readings arrive as ImpedanceEvent.
func (s *Session) ImpedanceStart(ctx context.Context) error {
	return s.command(ctx, "impedance_start", protocol.CommandImpedanceStart)
}

// ImpedanceStop stops impedance measurement.
func (s *Session) ImpedanceStop(ctx context.Context) error {
	return s.command(ctx, "impedance_stop", protocol.CommandImpedanceStop)
}

// SoftReset resets the board and discards the decoder state.
func (s *Session) SoftReset(ctx context.Context) error {
	if err := s.command(ctx, "soft_reset", protocol.CommandSoftReset); err != nil {
		return err
	}
	s.mu.Lock()
	s.router.Reset()
	s.mu.Unlock()
	return nil
}

// SyntheticDataEnable switches the board to its internal square-wave test signal.
func (s *Session) SyntheticDataEnable(ctx context.Context) error {
	return s.command(ctx, "synthetic_on", protocol.CommandSyntheticDataOn)
}

// SyntheticDataDisable switches the board back to the electrode inputs.
func (s *Session) SyntheticDataDisable(ctx context.Context) error {
	return s.command(ctx, "synthetic_off", protocol.CommandSyntheticDataOff)
}

// RegisterDump asks the board to print its registers. The text arrives as
// MessageEvent fragments.
func (s *Session) RegisterDump(ctx context.Context) error {
	return s.command(ctx, "register_dump", protocol.CommandRegisterDump)
}

// ChannelOn enables input channel 1..4.
func (s *Session) ChannelOn(ctx context.Context, channel int) error {
	cmd, ok := protocol.ChannelOnCommand(channel)
	if !ok {
		return ErrInvalidChannel
	}
	return s.command(ctx, "channel_on", cmd)
}

// ChannelOff disables input channel 1..4.
func (s *Session) ChannelOff(ctx context.Context, channel int) error {
	cmd, ok := protocol.ChannelOffCommand(channel)
	if !ok {
		return ErrInvalidChannel
	}
	return s.command(ctx, "channel_off", cmd)
}
