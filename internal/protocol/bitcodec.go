package protocol

// The board packs compressed deltas as N-bit fields whose sign lives in the
// least significant bit of the field, not the most significant one. Decoding
// sets every bit above N when that bit is 1.

const (
	signPrefix18 uint32 = 0xFFFC0000
	signPrefix19 uint32 = 0xFFF80000
)

func decodeSignLSB(b []byte, prefix uint32) int32 {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if b[2]&0x01 != 0 {
		v |= prefix
	}
	return int32(v)
}

// Decode18 converts a 3-byte right-aligned 18-bit field to int32.
func Decode18(b []byte) int32 {
	return decodeSignLSB(b, signPrefix18)
}

// Decode19 converts a 3-byte right-aligned 19-bit field to int32.
func Decode19(b []byte) int32 {
	return decodeSignLSB(b, signPrefix19)
}

// Decode24 converts a big-endian 24-bit two's-complement value to int32.
func Decode24(b []byte) int32 {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if v&0x800000 != 0 {
		v |= 0xFF000000
	}
	return int32(v)
}

// Decode16 converts a big-endian 16-bit two's-complement value to int16.
func Decode16(b []byte) int16 {
	return int16(uint16(b[0])<<8 | uint16(b[1]))
}
