//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/ganglion/internal/device"
)

// DeviceFactory reports that no native stack is available on this platform.
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("%w: native BLE on %s, use the bled112 transport", device.ErrUnsupported, runtime.GOOS)
}
