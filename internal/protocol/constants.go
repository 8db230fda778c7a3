package protocol

// Frame layout
const (
	// FrameSize is the length of every BLE notification from the board.
	FrameSize = 20

	// PayloadStart is the first payload byte after the byteId.
	PayloadStart = 1

	// SamplesPerPacket is the number of samples carried by a compressed frame.
	SamplesPerPacket = 2

	// NumChannels is the number of EEG channels on the board.
	NumChannels = 4

	// accelAuxIndex holds the accelerometer byte in 18-bit frames.
	accelAuxIndex = 19
)

// byteId ranges
const (
	ByteIDUncompressed       byte = 0
	ByteID18BitMin           byte = 1
	ByteID18BitMax           byte = 100
	ByteID19BitMin           byte = 101
	ByteID19BitMax           byte = 200
	ByteIDImpedanceChannel1  byte = 201
	ByteIDImpedanceChannel4  byte = 204
	ByteIDImpedanceReference byte = 205
	ByteIDMultiPacket        byte = 206
	ByteIDMultiPacketStop    byte = 207
	ByteIDOther              byte = 255

	// compressedRange is the number of ids in each compressed range.
	compressedRange = 100
)

// Board commands, written as single ASCII bytes.
const (
	CommandStreamStart      byte = 'b'
	CommandStreamStop       byte = 's'
	CommandAccelStart       byte = 'n'
	CommandAccelStop        byte = 'N'
	CommandImpedanceStart   byte = 'z'
	CommandImpedanceStop    byte = 'Z'
	CommandSoftReset        byte = 'v'
	CommandSyntheticDataOn  byte = 't'
	CommandSyntheticDataOff byte = 'T'
	CommandRegisterDump     byte = '?'
)

var (
	channelOnCommands  = [NumChannels]byte{'!', '@', '#', '$'}
	channelOffCommands = [NumChannels]byte{'1', '2', '3', '4'}
)

// ChannelOnCommand returns the command byte enabling channel 1..4.
func ChannelOnCommand(channel int) (byte, bool) {
	if channel < 1 || channel > NumChannels {
		return 0, false
	}
	return channelOnCommands[channel-1], true
}

// ChannelOffCommand returns the command byte disabling channel 1..4.
func ChannelOffCommand(channel int) (byte, bool) {
	if channel < 1 || channel > NumChannels {
		return 0, false
	}
	return channelOffCommands[channel-1], true
}

// GATT identities of the board.
const (
	ServiceUUID16      uint16 = 0xfe84
	ServiceUUID               = "fe84"
	ReceiveCharUUID           = "2d30c082-f39f-4ce6-923f-3484ea480596"
	SendCharUUID              = "2d30c083-f39f-4ce6-923f-3484ea480596"
	DisconnectCharUUID        = "2d30c084-f39f-4ce6-923f-3484ea480596"

	// DefaultNamePrefix is the advertised local name prefix of the board.
	DefaultNamePrefix = "Ganglion"
)

// Scale factors
const (
	// ScaleVoltsPerCount converts a sample count to volts (Vref 1.2 V, gain 51x, 1.5 divider).
	ScaleVoltsPerCount = 1.2 / (8388607.0 * 1.5 * 51.0)

	// ScaleAccelPerCount converts an accelerometer count to g.
	ScaleAccelPerCount = 0.016
)
