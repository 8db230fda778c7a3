package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/ganglion/internal/device"
)

// errorPatterns maps lower-cased fragments of go-ble and platform stack
// messages to driver errors. First match wins.
var errorPatterns = []struct {
	fragment string
	target   error
}{
	{"have=4 want=5", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"device already connected", device.ErrAlreadyConnected},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"timed out", device.ErrTimeout},
	{"timeout", device.ErrTimeout},
}

// NormalizeError maps go-ble failures onto the driver's error values, keeping
// the original message. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.target, err)
		}
	}
	return err
}
