package protocol

// ParseImpedance extracts the channel and value of a byteId 201..205 frame.
// The payload is an ASCII decimal terminated by a stop marker; an empty or
// non-numeric payload yields 0.
func ParseImpedance(frame []byte) Impedance {
	id := frame[0]
	imp := Impedance{}
	if id != ByteIDImpedanceReference {
		imp.ChannelNumber = int(id-ByteIDImpedanceChannel1) + 1
	}

	for _, c := range frame[PayloadStart:] {
		if c < '0' || c > '9' {
			break
		}
		imp.ImpedanceValue = imp.ImpedanceValue*10 + int(c-'0')
	}
	return imp
}
