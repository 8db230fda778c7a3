package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError is returned when a peripheral name does not resolve to any
// previously discovered record.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name == "" {
		return "peripheral not found"
	}
	return fmt.Sprintf("peripheral %q not found", e.Name)
}

// ConnectionState is the lifecycle state of a driver session.
type ConnectionState string

const (
	StateIdle          ConnectionState = "idle"
	StateScanning      ConnectionState = "scanning"
	StateFound         ConnectionState = "found"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateStreaming     ConnectionState = "streaming"
	StateDisconnecting ConnectionState = "disconnecting"
	StateClosed        ConnectionState = "closed"
)

// IsLinked reports whether the state owns a live transport link.
func (s ConnectionState) IsLinked() bool {
	return s == StateConnected || s == StateStreaming
}

// StateErrorKind identifies why an operation was rejected.
type StateErrorKind string

const (
	AlreadyScanning  StateErrorKind = "already_scanning"
	AlreadyConnected StateErrorKind = "already_connected"
	NotConnected     StateErrorKind = "not_connected"
	InvalidState     StateErrorKind = "invalid_state"
	WriteInFlight    StateErrorKind = "write_in_flight"
)

// StateError rejects an operation invoked in a state that does not allow it.
// The call has no side effects.
type StateError struct {
	Kind  StateErrorKind
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Kind)
	if e.State != "" {
		s = fmt.Sprintf("%s (state %s)", s, e.State)
	}
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	return s
}

// Is allows errors.Is to compare StateError values by Kind
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for state violations
var (
	ErrAlreadyScanning  = &StateError{Kind: AlreadyScanning}
	ErrAlreadyConnected = &StateError{Kind: AlreadyConnected}
	ErrNotConnected     = &StateError{Kind: NotConnected}
	ErrInvalidState     = &StateError{Kind: InvalidState}
	ErrWriteInFlight    = &StateError{Kind: WriteInFlight}
)

// NewStateError builds a StateError carrying the state the call was rejected in.
func NewStateError(kind StateErrorKind, state ConnectionState, msg string) *StateError {
	return &StateError{Kind: kind, State: state, Msg: msg}
}

// TransportError wraps a link, write or serial failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WrapTransport wraps err as a TransportError unless it already carries one
// or is a state violation.
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var terr *TransportError
	var serr *StateError
	if errors.As(err, &terr) || errors.As(err, &serr) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsStateKind reports whether err is a StateError of the given kind
func IsStateKind(err error, kind StateErrorKind) bool {
	var serr *StateError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// Address is a 6-byte link address in display order (most significant byte first).
type Address [6]byte

// String formats the address as AA:BB:CC:DD:EE:FF
func (a Address) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

// Reversed returns the address in wire order (least significant byte first).
func (a Address) Reversed() Address {
	var r Address
	for i := range a {
		r[i] = a[len(a)-1-i]
	}
	return r
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress parses "AA:BB:CC:DD:EE:FF", "aa-bb-..." or a bare 12-digit hex string.
func ParseAddress(s string) (Address, error) {
	var a Address
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return a, fmt.Errorf("invalid address %q: want 6 bytes", s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], raw)
	return a, nil
}

// PeripheralRecord identifies a discovered device.
//
// ID is the transport-specific identifier used to dial the device. On native
// BLE it is whatever the platform stack reports (a MAC on Linux, a UUID on
// macOS); on the serial bridge it is the formatted Address.
type PeripheralRecord struct {
	ID          string  `json:"id"`
	LocalName   string  `json:"name"`
	Address     Address `json:"-"`
	AddressType byte    `json:"address_type"`
	RSSI        int     `json:"rssi"`
}

// Name returns the advertised name, or the ID when the device has none.
func (p PeripheralRecord) Name() string {
	if p.LocalName == "" {
		return p.ID
	}
	return p.LocalName
}

// LinkEvent reports a transport-level connection change.
type LinkEvent struct {
	Up     bool
	Handle byte
	Reason string
	Err    error
}

// Sink receives everything a transport produces. Transports may call it from
// their own goroutines; implementations serialize processing.
type Sink interface {
	Discovered(rec PeripheralRecord)
	LinkChanged(ev LinkEvent)
	Frame(data []byte)
}

// Transport is the capability a driver session needs from a link: discovery,
// connection, outbound writes and inbound notification frames.
type Transport interface {
	// SetSink installs the receiver of discovery, link and data events.
	SetSink(sink Sink)
	// StartScan begins discovery; results arrive through Sink.Discovered.
	StartScan(ctx context.Context) error
	// StopScan ends discovery. It is safe to call when not scanning.
	StopScan() error
	// Connect dials the peripheral and enables data notifications. It returns
	// once the link is ready for writes.
	Connect(ctx context.Context, rec PeripheralRecord) error
	// Write sends bytes to the board's command characteristic.
	Write(ctx context.Context, data []byte) error
	// Disconnect tears down the link. It is safe to call when not connected.
	Disconnect() error
	// Close releases the underlying stack or port.
	Close() error
}
