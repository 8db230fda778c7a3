package ganglion

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/ganglion/internal/device"
)

// SearchStart scans until a peripheral whose name has the configured prefix
// is found, and returns it. maxDuration <= 0 uses the configured search
// timeout. On timeout scanning is stopped and the error wraps device.ErrTimeout.
func (s *Session) SearchStart(ctx context.Context, maxDuration time.Duration) (Peripheral, error) {
	if maxDuration <= 0 {
		maxDuration = s.cfg.SearchTimeout
	}
	op, err := s.beginSearch(ctx)
	if err != nil {
		return Peripheral{}, err
	}

	timer := time.NewTimer(maxDuration)
	defer timer.Stop()

	select {
	case rec := <-op.first:
		if err := s.endSearch(op); err != nil {
			s.logger.WithError(err).Warn("Failed to stop scanning")
		}
		return rec, nil
	case <-timer.C:
		if err := s.endSearch(op); err != nil {
			s.logger.WithError(err).Warn("Failed to stop scanning")
		}
		s.logger.WithField("timeout", maxDuration).Warn("Search timed out")
		return Peripheral{}, fmt.Errorf("%w: no %q peripheral found within %s", device.ErrTimeout, s.cfg.NamePrefix, maxDuration)
	case <-op.stop:
		return Peripheral{}, errSearchStopped
	case <-ctx.Done():
		if err := s.endSearch(op); err != nil {
			s.logger.WithError(err).Warn("Failed to stop scanning")
		}
		return Peripheral{}, ctx.Err()
	}
}

// Discover scans for the whole window and returns every matching peripheral
// in discovery order.
func (s *Session) Discover(ctx context.Context, window time.Duration) ([]Peripheral, error) {
	if window <= 0 {
		window = s.cfg.SearchTimeout
	}
	op, err := s.beginSearch(ctx)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	var waitErr error
	select {
	case <-timer.C:
	case <-op.stop:
		waitErr = errSearchStopped
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	stopErr := s.endSearch(op)

	s.mu.Lock()
	found := append([]Peripheral(nil), op.found...)
	s.mu.Unlock()

	if waitErr != nil {
		return found, waitErr
	}
	return found, stopErr
}

func (s *Session) beginSearch(ctx context.Context) (*searchOp, error) {
	if s.shut.Load() {
		return nil, errSessionClosed
	}

	s.mu.Lock()
	prev := s.state
	switch prev {
	case device.StateScanning:
		s.mu.Unlock()
		return nil, device.NewStateError(device.AlreadyScanning, prev, "")
	case device.StateConnected, device.StateStreaming:
		s.mu.Unlock()
		return nil, device.NewStateError(device.AlreadyConnected, prev, "")
	case device.StateConnecting, device.StateDisconnecting:
		s.mu.Unlock()
		return nil, device.NewStateError(device.InvalidState, prev, "link change in progress")
	}
	op := &searchOp{
		first: make(chan Peripheral, 1),
		stop:  make(chan struct{}),
		ids:   make(map[string]struct{}),
	}
	s.search = op
	s.state = device.StateScanning
	s.mu.Unlock()

	s.logger.WithField("prefix", s.cfg.NamePrefix).Info("Searching for board...")
	if err := s.transport.StartScan(ctx); err != nil {
		s.mu.Lock()
		if s.search == op {
			s.search = nil
			s.state = prev
		}
		s.mu.Unlock()
		s.logger.WithError(err).Error("Failed to start scanning")
		return nil, device.WrapTransport("scan", err)
	}
	return op, nil
}

// endSearch stops scanning for op. It is a no-op if op already ended.
func (s *Session) endSearch(op *searchOp) error {
	s.mu.Lock()
	if s.search != op {
		s.mu.Unlock()
		return nil
	}
	s.detachSearch(op)
	s.mu.Unlock()

	return device.WrapTransport("stop scan", s.transport.StopScan())
}

// detachSearch clears the running search. Must be called with mu held.
func (s *Session) detachSearch(op *searchOp) {
	s.search = nil
	if len(op.found) > 0 {
		s.state = device.StateFound
	} else {
		s.state = device.StateIdle
	}
}

// SearchStop ends a running search. The pending SearchStart fails; a pending
// Discover returns what it found so far. Safe to call when not searching and
// from several goroutines at once.
func (s *Session) SearchStop() error {
	s.mu.Lock()
	op := s.search
	if op == nil {
		s.mu.Unlock()
		return nil
	}
	close(op.stop)
	s.detachSearch(op)
	s.mu.Unlock()

	return device.WrapTransport("stop scan", s.transport.StopScan())
}
