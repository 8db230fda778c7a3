package bled112

import (
	"errors"
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// MessageType is the high bit of the lead header byte.
type MessageType byte

const (
	TypeCommand MessageType = 0x00 // commands and their responses
	TypeEvent   MessageType = 0x80 // asynchronous events
)

func (t MessageType) String() string {
	if t == TypeEvent {
		return "event"
	}
	return "command"
}

// Message classes
const (
	ClassSystem     byte = 0x00
	ClassConnection byte = 0x03
	ClassAttClient  byte = 0x04
	ClassGAP        byte = 0x06
)

// Commands, by class
const (
	CmdConnectionDisconnect byte = 0x00

	CmdAttClientReadByGroupType byte = 0x01
	CmdAttClientFindInformation byte = 0x03
	CmdAttClientAttributeWrite  byte = 0x05

	CmdGAPDiscover          byte = 0x02
	CmdGAPConnectDirect     byte = 0x03
	CmdGAPEndProcedure      byte = 0x04
	CmdGAPSetScanParameters byte = 0x07
)

// Events, by class
const (
	EvtConnectionStatus       byte = 0x00
	EvtConnectionDisconnected byte = 0x04

	EvtAttClientProcedureCompleted   byte = 0x01
	EvtAttClientGroupFound           byte = 0x02
	EvtAttClientFindInformationFound byte = 0x04
	EvtAttClientAttributeValue       byte = 0x05

	EvtGAPScanResponse byte = 0x00
)

const (
	headerSize = 4

	// maxPayload is the largest length the 11-bit header field can carry.
	maxPayload = 0x07FF

	typeMask       = 0x80
	technologyMask = 0x78
	lengthHighMask = 0x07
)

// ErrIncomplete is returned when the buffer does not yet hold a full frame.
var ErrIncomplete = errors.New("incomplete frame")

// ErrPayloadTooLarge rejects payloads that do not fit a BGAPI length field.
var ErrPayloadTooLarge = errors.New("payload too large")

// Frame is one BGAPI message: header plus payload.
type Frame struct {
	Type    MessageType
	Class   byte
	Command byte
	Payload []byte
}

// Is reports whether the frame has the given type, class and command.
func (f Frame) Is(t MessageType, class, command byte) bool {
	return f.Type == t && f.Class == class && f.Command == command
}

// Bytes encodes the frame. It panics if the payload exceeds the 11-bit
// length field; builders bound their payloads well below that.
func (f Frame) Bytes() []byte {
	n := len(f.Payload)
	if n > maxPayload {
		panic(fmt.Sprintf("bled112: %v: %d bytes, max %d", ErrPayloadTooLarge, n, maxPayload))
	}
	out := make([]byte, headerSize, headerSize+n)
	out[0] = byte(f.Type) | byte(n>>8)&lengthHighMask
	out[1] = byte(n)
	out[2] = f.Class
	out[3] = f.Command
	return append(out, f.Payload...)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s class=0x%02x cmd=0x%02x payload=[% x]", f.Type, f.Class, f.Command, f.Payload)
}

// ParseFrame decodes the frame at the start of b and returns it together with
// the number of bytes consumed. It returns ErrIncomplete when b is too short.
func ParseFrame(b []byte) (Frame, int, error) {
	if len(b) < headerSize {
		return Frame{}, 0, ErrIncomplete
	}
	if b[0]&technologyMask != 0 {
		return Frame{}, 0, fmt.Errorf("invalid header byte 0x%02x", b[0])
	}
	n := int(b[0]&lengthHighMask)<<8 | int(b[1])
	if len(b) < headerSize+n {
		return Frame{}, 0, ErrIncomplete
	}
	f := Frame{
		Type:    MessageType(b[0] & typeMask),
		Class:   b[2],
		Command: b[3],
		Payload: append([]byte(nil), b[headerSize:headerSize+n]...),
	}
	return f, headerSize + n, nil
}

// Framer splits a serial byte stream into frames. Received bytes wait in a
// bounded ring buffer; the header of the frame being assembled is held aside
// until its payload has arrived.
type Framer struct {
	rb  *ringbuffer.RingBuffer
	hdr []byte
}

// NewFramer creates a framer buffering at most capacity unparsed bytes.
func NewFramer(capacity int) *Framer {
	return &Framer{
		rb:  ringbuffer.New(capacity),
		hdr: make([]byte, 0, headerSize),
	}
}

// Write appends received bytes. It fails when the buffer cannot hold them all.
func (fr *Framer) Write(p []byte) (int, error) {
	n, err := fr.rb.Write(p)
	if err != nil {
		return n, fmt.Errorf("receive buffer full, %d of %d bytes dropped: %w", len(p)-n, len(p), err)
	}
	return n, nil
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. On a corrupt header one byte is skipped and the error returned, so
// repeated calls resynchronize on the stream.
func (fr *Framer) Next() (f Frame, ok bool, err error) {
	for len(fr.hdr) < headerSize {
		var one [1]byte
		if n, _ := fr.rb.TryRead(one[:]); n == 0 {
			return Frame{}, false, nil
		}
		fr.hdr = append(fr.hdr, one[0])
	}

	if fr.hdr[0]&technologyMask != 0 {
		bad := fr.hdr[0]
		fr.hdr = append(fr.hdr[:0], fr.hdr[1:]...)
		return Frame{}, false, fmt.Errorf("invalid header byte 0x%02x", bad)
	}

	n := int(fr.hdr[0]&lengthHighMask)<<8 | int(fr.hdr[1])
	if fr.rb.Length() < n {
		return Frame{}, false, nil
	}

	f = Frame{
		Type:    MessageType(fr.hdr[0] & typeMask),
		Class:   fr.hdr[2],
		Command: fr.hdr[3],
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := fr.rb.TryRead(f.Payload); err != nil {
			return Frame{}, false, fmt.Errorf("read payload: %w", err)
		}
	}
	fr.hdr = fr.hdr[:0]
	return f, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (fr *Framer) Buffered() int {
	return len(fr.hdr) + fr.rb.Length()
}
