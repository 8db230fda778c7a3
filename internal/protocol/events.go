package protocol

import "time"

// Event is a decoded occurrence delivered to the consumer. The concrete types
// form a closed set; consumers switch on them.
type Event interface {
	EventName() string
}

// Sample is one reading of all channels. Counts holds the raw reconstructed
// values; ChannelData holds the same values as counts or volts.
type Sample struct {
	SampleNumber int                  `json:"sample_number"`
	Counts       [NumChannels]int32   `json:"-"`
	ChannelData  [NumChannels]float64 `json:"channel_data"`
	Valid        bool                 `json:"valid"`
	Timestamp    time.Time            `json:"timestamp"`
}

// SampleEvent carries one decoded sample.
type SampleEvent struct {
	Sample Sample
}

func (SampleEvent) EventName() string { return "sample" }

// AccelVector holds the x, y, z accelerometer values, in counts or g.
type AccelVector [3]float64

// AccelEvent carries the current accelerometer vector.
type AccelEvent struct {
	Vector AccelVector
}

func (AccelEvent) EventName() string { return "accelerometer" }

// Impedance is one channel's impedance reading. Channel 0 is the reference.
type Impedance struct {
	ChannelNumber  int `json:"channel_number"`
	ImpedanceValue int `json:"impedance_value"`
}

// ImpedanceEvent carries an impedance reading.
type ImpedanceEvent struct {
	Impedance Impedance
}

func (ImpedanceEvent) EventName() string { return "impedance" }

// MessageEvent carries a reassembled multi-packet message.
type MessageEvent struct {
	Data []byte
}

func (MessageEvent) EventName() string { return "message" }

// DroppedPacketEvent reports a gap in the byteId sequence.
type DroppedPacketEvent struct {
	Count int
}

func (DroppedPacketEvent) EventName() string { return "droppedPacket" }
