package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/bled112"
	"github.com/srg/ganglion/internal/device"
	goble "github.com/srg/ganglion/internal/device/go-ble"
	"github.com/srg/ganglion/pkg/config"
)

// NativeFactory creates a transport over the platform Bluetooth stack.
// This is a variable so that it can be overridden in tests.
var NativeFactory = func(logger *logrus.Logger) (device.Transport, error) {
	return goble.NewTransport(logger), nil
}

// SerialFactory creates a transport over a BLED112 dongle on port.
// This is a variable so that it can be overridden in tests.
var SerialFactory = func(port string, baud int, logger *logrus.Logger) (device.Transport, error) {
	t, err := bled112.Open(port, baud, logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewTransport creates the transport selected by cfg.
func NewTransport(cfg *config.Config, logger *logrus.Logger) (device.Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	switch cfg.Transport {
	case config.TransportBLE, "":
		logger.Debug("Using native BLE transport")
		return NativeFactory(logger)
	case config.TransportBLED112:
		logger.WithFields(logrus.Fields{
			"port": cfg.SerialPort,
			"baud": cfg.SerialBaud,
		}).Debug("Using BLED112 transport")
		return SerialFactory(cfg.SerialPort, cfg.SerialBaud, logger)
	default:
		return nil, fmt.Errorf("%w: transport %q", device.ErrUnsupported, cfg.Transport)
	}
}
