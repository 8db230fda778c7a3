package testutils

import (
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/protocol"
)

// FrameBuilder assembles 20-byte board frames for tests.
type FrameBuilder struct {
	id      byte
	payload []byte
}

func NewFrameBuilder(id byte) *FrameBuilder {
	return &FrameBuilder{id: id}
}

// WithPayload appends raw payload bytes after the byteId.
func (b *FrameBuilder) WithPayload(data ...byte) *FrameBuilder {
	b.payload = append(b.payload, data...)
	return b
}

func (b *FrameBuilder) WithASCII(s string) *FrameBuilder {
	b.payload = append(b.payload, s...)
	return b
}

// WithCounts encodes four signed counts as 24-bit big-endian values, the
// layout of an uncompressed frame.
func (b *FrameBuilder) WithCounts(counts ...int32) *FrameBuilder {
	for _, c := range counts {
		u := uint32(c) & 0xFFFFFF
		b.payload = append(b.payload, byte(u>>16), byte(u>>8), byte(u))
	}
	return b
}

// WithAux sets the trailing accelerometer byte of an 18-bit frame.
func (b *FrameBuilder) WithAux(v int8) *FrameBuilder {
	for len(b.payload) < protocol.FrameSize-2 {
		b.payload = append(b.payload, 0)
	}
	b.payload = append(b.payload[:protocol.FrameSize-2], byte(v))
	return b
}

// Build returns the frame padded with zeros to the board frame size.
func (b *FrameBuilder) Build() []byte {
	frame := make([]byte, protocol.FrameSize)
	frame[0] = b.id
	copy(frame[1:], b.payload)
	return frame
}

// PeripheralBuilder builds discovery records.
type PeripheralBuilder struct {
	rec device.PeripheralRecord
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{rec: device.PeripheralRecord{RSSI: -60}}
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.rec.LocalName = name
	return b
}

// WithAddress sets the MAC address and, unless already set, the ID.
func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	addr, err := device.ParseAddress(address)
	if err != nil {
		panic(err)
	}
	b.rec.Address = addr
	if b.rec.ID == "" {
		b.rec.ID = addr.String()
	}
	return b
}

func (b *PeripheralBuilder) WithID(id string) *PeripheralBuilder {
	b.rec.ID = id
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.rec.RSSI = rssi
	return b
}

func (b *PeripheralBuilder) Build() device.PeripheralRecord {
	return b.rec
}
