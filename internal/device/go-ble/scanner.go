package goble

import (
	"context"
	"errors"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/groutine"
)

// StartScan begins discovery on the native stack. Each peripheral is reported
// once, and again only when its advertised name changes.
func (t *Transport) StartScan(ctx context.Context) error {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	if t.scanCancel != nil {
		return device.ErrAlreadyScanning
	}

	dev, err := t.device()
	if err != nil {
		return err
	}

	t.seen = hashmap.New[string, device.PeripheralRecord]()
	scanCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.scanCancel = cancel
	t.scanDone = done

	t.logger.Info("Starting BLE scan...")
	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		defer close(done)
		err := dev.Scan(ctx, true, t.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.logger.WithFields(logrus.Fields{
				"goroutine": groutine.GetName(ctx),
				"error":     NormalizeError(err),
			}).Error("BLE scan failed")
		}
	})
	return nil
}

// StopScan ends discovery and waits for the scan goroutine to exit.
func (t *Transport) StopScan() error {
	t.scanMu.Lock()
	cancel, done := t.scanCancel, t.scanDone
	t.scanCancel, t.scanDone = nil, nil
	t.scanMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	seen := 0
	if t.seen != nil {
		seen = t.seen.Len()
	}
	t.logger.WithField("device_count", seen).Info("BLE scan stopped")
	return nil
}

// handleAdvertisement is the ble.AdvHandler passed to the stack.
func (t *Transport) handleAdvertisement(adv ble.Advertisement) {
	t.observe(adv)
}

// observe records an advertisement and forwards new or renamed peripherals.
func (t *Transport) observe(adv advertisement) {
	rec := recordFromAdvertisement(adv)
	seen := t.seen
	if seen == nil {
		return
	}

	prev, existing := seen.GetOrInsert(rec.ID, rec)
	if existing {
		if rec.LocalName == "" || rec.LocalName == prev.LocalName {
			return
		}
		seen.Set(rec.ID, rec)
	}

	t.logger.WithFields(logrus.Fields{
		"device":  rec.Name(),
		"address": rec.ID,
		"rssi":    rec.RSSI,
	}).Debug("Discovered device")

	if sink := t.currentSink(); sink != nil {
		sink.Discovered(rec)
	}
}
