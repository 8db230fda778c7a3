package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/protocol"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a logger that only reports warnings and above.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// QuietLogger returns a logger that discards everything below panic.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func CreateBoard(name, address string, rssi int) device.PeripheralRecord {
	return NewPeripheralBuilder().WithName(name).WithAddress(address).WithRSSI(rssi).Build()
}

func CreateFrame(id byte) *FrameBuilder {
	return NewFrameBuilder(id)
}

func CreateImpedanceFrame(channel int, value string) []byte {
	id := protocol.ByteIDImpedanceChannel1 + byte(channel-1)
	if channel == 0 {
		id = protocol.ByteIDImpedanceReference
	}
	return NewFrameBuilder(id).WithASCII(value + "Z").Build()
}
