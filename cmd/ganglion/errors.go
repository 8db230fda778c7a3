package main

import (
	"errors"
	"fmt"

	"github.com/srg/ganglion/internal/device"
)

// ErrNoBoard is returned when a search ends without a matching board.
var ErrNoBoard = errors.New("no board found")

// formatUserError turns driver errors into one-line messages with a hint.
func formatUserError(err error) string {
	var nf *device.NotFoundError
	var serr *device.StateError
	var terr *device.TransportError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and retry"
	case errors.Is(err, ErrNoBoard), errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the board powered on and in range?)", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("board %q was not seen during the scan", nf.Name)
	case errors.As(err, &serr):
		return fmt.Sprintf("board is %s: %v", serr.State, err)
	case errors.As(err, &terr):
		return fmt.Sprintf("%s failed: %v", terr.Op, terr.Err)
	default:
		return err.Error()
	}
}
