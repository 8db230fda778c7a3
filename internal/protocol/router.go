package protocol

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Category is the handler class selected by a frame's byteId.
type Category int

const (
	CategoryInvalid Category = iota
	CategoryUncompressed
	CategoryCompressed18
	CategoryCompressed19
	CategoryImpedance
	CategoryMultiPacket
	CategoryMultiPacketStop
	CategoryOther
)

var categoryNames = map[Category]string{
	CategoryInvalid:         "invalid",
	CategoryUncompressed:    "uncompressed",
	CategoryCompressed18:    "compressed18",
	CategoryCompressed19:    "compressed19",
	CategoryImpedance:       "impedance",
	CategoryMultiPacket:     "multipacket",
	CategoryMultiPacketStop: "multipacket_stop",
	CategoryOther:           "other",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Classify maps every byteId to exactly one category.
func Classify(id byte) Category {
	switch {
	case id == ByteIDUncompressed:
		return CategoryUncompressed
	case id <= ByteID18BitMax:
		return CategoryCompressed18
	case id <= ByteID19BitMax:
		return CategoryCompressed19
	case id <= ByteIDImpedanceReference:
		return CategoryImpedance
	case id == ByteIDMultiPacket:
		return CategoryMultiPacket
	case id == ByteIDMultiPacketStop:
		return CategoryMultiPacketStop
	case id == ByteIDOther:
		return CategoryOther
	default:
		return CategoryInvalid
	}
}

// ProtocolError reports a frame that was dropped. It never ends a session.
type ProtocolError struct {
	ByteID byte
	Length int
	Msg    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (byteId %d, %d bytes): %s", e.ByteID, e.Length, e.Msg)
}

// Router dispatches inbound frames to the decoding handlers. It keeps no state
// of its own; the handlers it points at own the per-connection state.
type Router struct {
	Decompressor *Decompressor
	Reassembler  *Reassembler
	Accel        *AccelExtractor
	logger       *logrus.Logger
}

// NewRouter creates a router over fresh handlers.
func NewRouter(sendCounts bool, policy AccelEmitPolicy, accelEvery int, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		Decompressor: NewDecompressor(sendCounts),
		Reassembler:  &Reassembler{},
		Accel:        NewAccelExtractor(policy, accelEvery, sendCounts),
		logger:       logger,
	}
}

// Reset discards all handler state, as on stream start or link loss.
func (r *Router) Reset() {
	r.Decompressor.Reset()
	r.Reassembler.Reset()
	r.Accel.Reset()
}

// Route decodes one frame synchronously, passing every resulting event to emit.
func (r *Router) Route(frame []byte, emit func(Event)) error {
	if len(frame) == 0 {
		return &ProtocolError{Length: 0, Msg: "empty frame"}
	}
	id := frame[0]
	if len(frame) != FrameSize {
		return &ProtocolError{ByteID: id, Length: len(frame), Msg: fmt.Sprintf("want %d bytes", FrameSize)}
	}

	category := Classify(id)
	if r.logger.IsLevelEnabled(logrus.TraceLevel) {
		r.logger.WithFields(logrus.Fields{
			"byte_id":  id,
			"category": category.String(),
		}).Trace("Routing frame")
	}

	switch category {
	case CategoryUncompressed:
		r.Decompressor.Uncompressed(frame, emit)
	case CategoryCompressed18:
		if err := r.Decompressor.Compressed(frame, emit); err != nil {
			return err
		}
		if axis := accelAxis(id); axis != 0 {
			r.Accel.Update(axis, int16(int8(frame[accelAuxIndex])), emit)
		}
	case CategoryCompressed19:
		return r.Decompressor.Compressed(frame, emit)
	case CategoryImpedance:
		emit(ImpedanceEvent{Impedance: ParseImpedance(frame)})
	case CategoryMultiPacket:
		r.Reassembler.Fragment(frame)
	case CategoryMultiPacketStop:
		r.Reassembler.Stop(frame, emit)
	case CategoryOther:
		r.logger.WithField("data", fmt.Sprintf("% x", frame[PayloadStart:])).Debug("Other data frame")
	default:
		return &ProtocolError{ByteID: id, Length: len(frame), Msg: "unrecognized byteId"}
	}
	return nil
}
