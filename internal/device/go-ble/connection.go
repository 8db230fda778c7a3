package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/groutine"
	"github.com/srg/ganglion/internal/protocol"
)

var (
	serviceUUID = ble.UUID16(protocol.ServiceUUID16)
	receiveUUID = ble.MustParse(protocol.ReceiveCharUUID)
	sendUUID    = ble.MustParse(protocol.SendCharUUID)
)

// Transport is a device.Transport backed by the host's native BLE stack.
type Transport struct {
	logger *logrus.Logger

	sinkMu sync.RWMutex
	sink   device.Sink

	devMu sync.Mutex
	dev   ble.Device

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	seen       *hashmap.Map[string, device.PeripheralRecord]

	connMutex     sync.RWMutex
	client        ble.Client
	chars         boardCharacteristics
	monitorCancel context.CancelFunc
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a native transport. The stack is opened lazily on first use.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// SetSink installs the receiver of discovery, link and data events.
func (t *Transport) SetSink(sink device.Sink) {
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	t.sink = sink
}

func (t *Transport) currentSink() device.Sink {
	t.sinkMu.RLock()
	defer t.sinkMu.RUnlock()
	return t.sink
}

func (t *Transport) device() (ble.Device, error) {
	t.devMu.Lock()
	defer t.devMu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Connect dials the peripheral, discovers the board's characteristics and
// subscribes to the receive characteristic.
func (t *Transport) Connect(ctx context.Context, rec device.PeripheralRecord) error {
	address := strings.TrimSpace(rec.ID)
	if address == "" {
		t.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	t.connMutex.Lock()
	defer t.connMutex.Unlock()

	if t.client != nil {
		t.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	dev, err := t.device()
	if err != nil {
		return err
	}

	t.logger.WithField("address", address).Info("Connecting to BLE device...")

	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return device.WrapTransport("dial", NormalizeError(err))
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err == nil {
		t.chars, err = findBoardCharacteristics(profile, serviceUUID, receiveUUID, sendUUID)
	}
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover board profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return device.WrapTransport("discover", NormalizeError(err))
	}

	if err := client.Subscribe(t.chars.receive, false, t.handleNotification); err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to subscribe to board notifications")
		_ = client.CancelConnection()
		return device.WrapTransport("subscribe", NormalizeError(err))
	}

	t.client = client
	t.startMonitor(client)

	t.logger.WithField("address", address).Info("BLE device connected successfully")

	if sink := t.currentSink(); sink != nil {
		sink.LinkChanged(device.LinkEvent{Up: true})
	}
	return nil
}

func (t *Transport) handleNotification(data []byte) {
	if sink := t.currentSink(); sink != nil {
		sink.Frame(append([]byte(nil), data...))
	}
}

// startMonitor watches the client's Disconnected() channel and reports an
// unexpected link loss. Must be called with connMutex held.
func (t *Transport) startMonitor(client ble.Client) {
	monitorCtx, cancel := context.WithCancel(context.Background())
	t.monitorCancel = cancel

	watcher, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(monitorCtx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-watcher.Disconnected():
			t.logger.Warn("BLE stack reported disconnection")
			t.linkLost(client, "peripheral disconnected")
		case <-ctx.Done():
		}
	})
}

// linkLost clears the connection if client is still current and reports it down.
func (t *Transport) linkLost(client ble.Client, reason string) {
	t.connMutex.Lock()
	if t.client != client {
		t.connMutex.Unlock()
		return
	}
	t.client = nil
	t.chars = boardCharacteristics{}
	if t.monitorCancel != nil {
		t.monitorCancel()
		t.monitorCancel = nil
	}
	t.connMutex.Unlock()

	if sink := t.currentSink(); sink != nil {
		sink.LinkChanged(device.LinkEvent{Up: false, Reason: reason})
	}
}

// Write sends data to the board's send characteristic without response.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.connMutex.RLock()
	client, send := t.client, t.chars.send
	t.connMutex.RUnlock()

	if client == nil {
		return device.ErrNotConnected
	}

	result := make(chan error, 1)
	groutine.Go(ctx, "ble-write", func(context.Context) {
		result <- client.WriteCharacteristic(send, data, true)
	})

	select {
	case err := <-result:
		if err != nil {
			t.logger.WithField("error", err).Error("Failed to write to board")
			return device.WrapTransport("write", NormalizeError(err))
		}
		return nil
	case <-ctx.Done():
		return device.WrapTransport("write", fmt.Errorf("%w: %v", device.ErrTimeout, ctx.Err()))
	}
}

// Disconnect unsubscribes and closes the link. The link is reported down once.
func (t *Transport) Disconnect() error {
	t.connMutex.RLock()
	client, receive := t.client, t.chars.receive
	t.connMutex.RUnlock()

	if client == nil {
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	t.logger.Info("Disconnecting BLE device...")

	if err := NormalizeError(client.Unsubscribe(receive, false)); err != nil {
		t.logger.WithField("error", err).Warn("Failed to unsubscribe from board notifications")
	}
	err := client.CancelConnection()
	t.linkLost(client, "disconnect requested")

	if err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return device.WrapTransport("disconnect", NormalizeError(err))
	}
	t.logger.Info("BLE device disconnected successfully")
	return nil
}

// Close stops scanning, drops the link and releases the stack.
func (t *Transport) Close() error {
	_ = t.StopScan()
	_ = t.Disconnect()

	t.devMu.Lock()
	dev := t.dev
	t.dev = nil
	t.devMu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		return device.WrapTransport("close", NormalizeError(err))
	}
	return nil
}
