package goble

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdvertisement struct {
	name string
	rssi int
	addr string
}

func (a fakeAdvertisement) LocalName() string { return a.name }
func (a fakeAdvertisement) RSSI() int         { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr    { return ble.NewAddr(a.addr) }

type discoverySink struct {
	mu   sync.Mutex
	recs []device.PeripheralRecord
}

func (s *discoverySink) Discovered(rec device.PeripheralRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}
func (s *discoverySink) LinkChanged(device.LinkEvent) {}
func (s *discoverySink) Frame([]byte)                 {}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRecordFromAdvertisement(t *testing.T) {
	tests := []struct {
		name        string
		adv         fakeAdvertisement
		expectedID  string
		expectAddr  bool
		expectedRaw device.Address
	}{
		{
			name:        "linux MAC",
			adv:         fakeAdvertisement{name: "Ganglion-1a2b", rssi: -50, addr: "c0:11:22:33:44:55"},
			expectedID:  "c0:11:22:33:44:55",
			expectAddr:  true,
			expectedRaw: device.Address{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55},
		},
		{
			name:       "darwin UUID",
			adv:        fakeAdvertisement{name: "Ganglion-1a2b", rssi: -70, addr: "5c3f3b56-2f4f-4a2f-8a5b-8c0f7b0b2d11"},
			expectedID: "5c3f3b56-2f4f-4a2f-8a5b-8c0f7b0b2d11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordFromAdvertisement(tt.adv)

			assert.Equal(t, tt.expectedID, rec.ID, "platform address MUST be kept as the dial ID")
			assert.Equal(t, tt.adv.name, rec.LocalName)
			assert.Equal(t, tt.adv.rssi, rec.RSSI)
			if tt.expectAddr {
				assert.Equal(t, tt.expectedRaw, rec.Address)
			} else {
				assert.True(t, rec.Address.IsZero())
			}
		})
	}
}

func TestObserveDeduplicates(t *testing.T) {
	// GOAL: Verify each peripheral is forwarded once, and again only when its name changes
	//
	// TEST SCENARIO: Repeated advertisements, a nameless one, then a renamed one → three forwarded records

	tr := NewTransport(quietLogger())
	sink := &discoverySink{}
	tr.SetSink(sink)
	tr.seen = hashmap.New[string, device.PeripheralRecord]()

	tr.observe(fakeAdvertisement{name: "", addr: "c0:11:22:33:44:55"})
	tr.observe(fakeAdvertisement{name: "", addr: "c0:11:22:33:44:55"})
	tr.observe(fakeAdvertisement{name: "Ganglion-1a2b", addr: "c0:11:22:33:44:55"})
	tr.observe(fakeAdvertisement{name: "Ganglion-1a2b", addr: "c0:11:22:33:44:55"})
	tr.observe(fakeAdvertisement{name: "", addr: "c0:11:22:33:44:55"})
	tr.observe(fakeAdvertisement{name: "Other", addr: "11:22:33:44:55:66"})

	require.Len(t, sink.recs, 3)
	assert.Equal(t, "", sink.recs[0].LocalName)
	assert.Equal(t, "Ganglion-1a2b", sink.recs[1].LocalName, "late scan-response name MUST be forwarded")
	assert.Equal(t, "Other", sink.recs[2].LocalName)
}

func TestObserveWithoutScan(t *testing.T) {
	tr := NewTransport(quietLogger())
	sink := &discoverySink{}
	tr.SetSink(sink)

	tr.observe(fakeAdvertisement{name: "Ganglion", addr: "c0:11:22:33:44:55"})

	assert.Empty(t, sink.recs, "advertisements outside a scan MUST be ignored")
}

func TestFindBoardCharacteristics(t *testing.T) {
	receive := &ble.Characteristic{UUID: receiveUUID}
	send := &ble.Characteristic{UUID: sendUUID}
	other := &ble.Characteristic{UUID: ble.UUID16(0x2a19)}

	t.Run("found", func(t *testing.T) {
		profile := &ble.Profile{Services: []*ble.Service{
			{UUID: ble.UUID16(0x180f), Characteristics: []*ble.Characteristic{other}},
			{UUID: serviceUUID, Characteristics: []*ble.Characteristic{send, receive}},
		}}

		chars, err := findBoardCharacteristics(profile, serviceUUID, receiveUUID, sendUUID)

		require.NoError(t, err)
		assert.Same(t, receive, chars.receive)
		assert.Same(t, send, chars.send)
	})

	t.Run("characteristic in another service is ignored", func(t *testing.T) {
		profile := &ble.Profile{Services: []*ble.Service{
			{UUID: ble.UUID16(0x180f), Characteristics: []*ble.Characteristic{receive}},
			{UUID: serviceUUID, Characteristics: []*ble.Characteristic{send}},
		}}

		_, err := findBoardCharacteristics(profile, serviceUUID, receiveUUID, sendUUID)

		assert.Error(t, err)
	})

	t.Run("missing send", func(t *testing.T) {
		profile := &ble.Profile{Services: []*ble.Service{
			{UUID: serviceUUID, Characteristics: []*ble.Characteristic{receive}},
		}}

		_, err := findBoardCharacteristics(profile, serviceUUID, receiveUUID, sendUUID)

		assert.Error(t, err)
	})

	t.Run("nil profile", func(t *testing.T) {
		_, err := findBoardCharacteristics(nil, serviceUUID, receiveUUID, sendUUID)
		assert.Error(t, err)
	})
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"bluetooth off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyConnected},
		{"timeout", errors.New("operation timed out"), device.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NormalizeError(tt.err), tt.expected)
		})
	}

	assert.NoError(t, NormalizeError(nil))

	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain), "unknown errors MUST pass through unchanged")
}

func TestIdleOperations(t *testing.T) {
	tr := NewTransport(quietLogger())

	assert.ErrorIs(t, tr.Write(context.Background(), []byte{'b'}), device.ErrNotConnected)
	assert.NoError(t, tr.StopScan())
	assert.NoError(t, tr.Disconnect())
	assert.NoError(t, tr.Close())
}
