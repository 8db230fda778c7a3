package protocol

import (
	"fmt"
	"time"
)

// bitWindow locates one packed field inside a compressed payload. start is
// counted in bits from the most significant bit of the first payload byte.
type bitWindow struct {
	start int
	width int
}

// Fields are ordered sample 1 channels 1..4, then sample 2 channels 1..4.
var (
	windows18 = [SamplesPerPacket * NumChannels]bitWindow{
		{0, 18}, {18, 18}, {36, 18}, {54, 18},
		{72, 18}, {90, 18}, {108, 18}, {126, 18},
	}
	windows19 = [SamplesPerPacket * NumChannels]bitWindow{
		{0, 19}, {19, 19}, {38, 19}, {57, 19},
		{76, 19}, {95, 19}, {114, 19}, {133, 19},
	}
)

// extract returns the window right-aligned in a 3-byte big-endian field.
func (w bitWindow) extract(p []byte) [3]byte {
	var v uint32
	for i := 0; i < w.width; i++ {
		bit := w.start + i
		v = v<<1 | uint32(p[bit/8]>>(7-bit%8))&0x01
	}
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// payloadBytes is the minimum payload length covering every window.
func payloadBytes(windows []bitWindow) int {
	last := windows[len(windows)-1]
	return (last.start + last.width + 7) / 8
}

// Deltas holds the signed per-channel deltas of the two samples in a packet.
type Deltas [SamplesPerPacket][NumChannels]int32

func decompressDeltas(payload []byte, windows []bitWindow, decode func([]byte) int32) (Deltas, error) {
	var d Deltas
	if need := payloadBytes(windows); len(payload) < need {
		return d, fmt.Errorf("compressed payload too short: %d bytes, need %d", len(payload), need)
	}
	for i, w := range windows {
		field := w.extract(payload)
		d[i/NumChannels][i%NumChannels] = decode(field[:])
	}
	return d, nil
}

// DecompressDeltas18Bit unpacks eight 18-bit deltas from an 18-byte payload.
func DecompressDeltas18Bit(payload []byte) (Deltas, error) {
	return decompressDeltas(payload, windows18[:], Decode18)
}

// DecompressDeltas19Bit unpacks eight 19-bit deltas from a 19-byte payload.
func DecompressDeltas19Bit(payload []byte) (Deltas, error) {
	return decompressDeltas(payload, windows19[:], Decode19)
}

// DecoderState is the per-connection state of delta decoding.
type DecoderState struct {
	PreviousSample        [NumChannels]int32
	LastByteID            byte
	FirstPacketSinceReset bool
	DroppedPackets        int
}

// Decompressor reconstructs absolute samples from compressed frames and
// detects gaps in the byteId sequence. It is not safe for concurrent use.
type Decompressor struct {
	state DecoderState
	scale float64
	now   func() time.Time
}

// NewDecompressor creates a decompressor emitting raw counts when sendCounts
// is set, volts otherwise.
func NewDecompressor(sendCounts bool) *Decompressor {
	scale := ScaleVoltsPerCount
	if sendCounts {
		scale = 1
	}
	d := &Decompressor{scale: scale, now: time.Now}
	d.Reset()
	return d
}

// Reset discards the baseline and the sequence reference.
func (d *Decompressor) Reset() {
	d.state = DecoderState{FirstPacketSinceReset: true}
}

// State returns a copy of the current decoder state.
func (d *Decompressor) State() DecoderState {
	return d.state
}

// Uncompressed seeds the baseline from a byteId 0 frame and emits sample 0.
func (d *Decompressor) Uncompressed(frame []byte, emit func(Event)) {
	for ch := 0; ch < NumChannels; ch++ {
		off := PayloadStart + ch*3
		d.state.PreviousSample[ch] = Decode24(frame[off : off+3])
	}
	d.state.LastByteID = ByteIDUncompressed
	d.state.FirstPacketSinceReset = false
	emit(SampleEvent{Sample: d.buildSample(0, d.state.PreviousSample)})
}

// Compressed decodes an 18-bit or 19-bit frame into two samples. A dropped
// packet report, if any, is emitted before the samples.
func (d *Decompressor) Compressed(frame []byte, emit func(Event)) error {
	id := frame[0]

	var (
		deltas Deltas
		err    error
		base   int
	)
	if id <= ByteID18BitMax {
		deltas, err = DecompressDeltas18Bit(frame[PayloadStart:])
	} else {
		deltas, err = DecompressDeltas19Bit(frame[PayloadStart:])
		base = compressedRange
	}
	if err != nil {
		return &ProtocolError{ByteID: id, Length: len(frame), Msg: err.Error()}
	}

	if gap := d.checkSequence(id); gap > 0 {
		emit(DroppedPacketEvent{Count: gap})
	}

	var first, second [NumChannels]int32
	for ch := 0; ch < NumChannels; ch++ {
		first[ch] = d.state.PreviousSample[ch] + deltas[0][ch]
		second[ch] = first[ch] + deltas[1][ch]
	}
	d.state.PreviousSample = second

	n := (int(id) - base) * 2
	emit(SampleEvent{Sample: d.buildSample(n-1, first)})
	emit(SampleEvent{Sample: d.buildSample(n, second)})
	return nil
}

// checkSequence records id as the new counter reference and returns the
// number of packets missing between the previous id and this one.
func (d *Decompressor) checkSequence(id byte) int {
	last := d.state.LastByteID
	d.state.LastByteID = id

	if d.state.FirstPacketSinceReset {
		d.state.FirstPacketSinceReset = false
		return 0
	}

	lo := rangeMin(id)
	var expected int
	switch {
	case last == ByteIDUncompressed:
		expected = int(lo)
	case rangeMin(last) != lo:
		// The board switched between 18-bit and 19-bit compression.
		return 0
	case last == lo+compressedRange-1:
		expected = int(lo)
	default:
		expected = int(last) + 1
	}

	gap := ((int(id)-expected)%compressedRange + compressedRange) % compressedRange
	d.state.DroppedPackets += gap
	return gap
}

func rangeMin(id byte) byte {
	if id >= ByteID19BitMin {
		return ByteID19BitMin
	}
	return ByteID18BitMin
}

func (d *Decompressor) buildSample(number int, counts [NumChannels]int32) Sample {
	s := Sample{
		SampleNumber: number,
		Counts:       counts,
		Valid:        true,
		Timestamp:    d.now(),
	}
	for ch, c := range counts {
		s.ChannelData[ch] = float64(c) * d.scale
	}
	return s
}
