package ganglion

import (
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/protocol"
)

// Event is anything delivered on Session.Events. Consumers switch on the
// concrete type.
type Event = protocol.Event

// Data-plane events, decoded from board frames.
type (
	Sample             = protocol.Sample
	SampleEvent        = protocol.SampleEvent
	AccelVector        = protocol.AccelVector
	AccelEvent         = protocol.AccelEvent
	Impedance          = protocol.Impedance
	ImpedanceEvent     = protocol.ImpedanceEvent
	MessageEvent       = protocol.MessageEvent
	DroppedPacketEvent = protocol.DroppedPacketEvent
)

// Peripheral identifies a discovered board.
type Peripheral = device.PeripheralRecord

// FoundEvent reports a board discovered during a search.
type FoundEvent struct {
	Peripheral Peripheral
}

func (FoundEvent) EventName() string { return "ganglionFound" }

// ReadyEvent reports that the link is up and the board accepts commands.
type ReadyEvent struct {
	Peripheral Peripheral
}

func (ReadyEvent) EventName() string { return "ready" }

// CloseEvent reports the end of a link. It is emitted once per link.
type CloseEvent struct {
	// Manual is true when the link was closed by Disconnect or Close.
	Manual bool
	Reason string
}

func (CloseEvent) EventName() string { return "close" }

// ErrorEvent reports a transport failure surfaced outside a caller's operation
// or alongside it.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) EventName() string { return "error" }
