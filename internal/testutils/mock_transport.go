package testutils

import (
	"context"
	"sync"

	"github.com/srg/ganglion/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport. It records the sink a
// session installs so tests can drive discovery, link and frame events.
//
// testify matches expectations in registration order, so per-test overrides
// must be registered before AllowDefaults.
type MockTransport struct {
	mock.Mock

	mu     sync.Mutex
	sink   device.Sink
	writes [][]byte
}

var _ device.Transport = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) SetSink(sink device.Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

func (m *MockTransport) Sink() device.Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink
}

func (m *MockTransport) StartScan(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTransport) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockTransport) Connect(ctx context.Context, rec device.PeripheralRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockTransport) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), data...))
	m.mu.Unlock()
	return m.Called(ctx, data).Error(0)
}

func (m *MockTransport) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockTransport) Close() error {
	return m.Called().Error(0)
}

// AllowDefaults registers permissive expectations that behave like a healthy
// board: connecting brings the link up and disconnecting brings it down.
func (m *MockTransport) AllowDefaults() *MockTransport {
	m.On("StartScan", mock.Anything).Return(nil).Maybe()
	m.On("StopScan").Return(nil).Maybe()
	m.On("Connect", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		m.EmitLinkUp()
	}).Maybe()
	m.On("Write", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Disconnect").Return(nil).Run(func(mock.Arguments) {
		m.EmitLinkDown("disconnect requested", nil)
	}).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

func (m *MockTransport) EmitDiscovered(rec device.PeripheralRecord) {
	m.Sink().Discovered(rec)
}

func (m *MockTransport) EmitLinkUp() {
	m.Sink().LinkChanged(device.LinkEvent{Up: true})
}

func (m *MockTransport) EmitLinkDown(reason string, err error) {
	m.Sink().LinkChanged(device.LinkEvent{Reason: reason, Err: err})
}

func (m *MockTransport) EmitFrame(frame []byte) {
	m.Sink().Frame(frame)
}

// Writes returns the payloads passed to Write, in call order.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}
