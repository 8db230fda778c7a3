package bled112

import (
	"testing"

	"github.com/srg/ganglion/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBytes(t *testing.T) {
	addr, err := device.ParseAddress("C0:11:22:33:44:55")
	require.NoError(t, err)

	tests := []struct {
		name     string
		got      []byte
		expected []byte
	}{
		{
			name:     "set scan parameters",
			got:      SetScanParameters(0xC8, 0xC8, true),
			expected: []byte{0x00, 0x05, 0x06, 0x07, 0xC8, 0x00, 0xC8, 0x00, 0x01},
		},
		{
			name:     "passive scan",
			got:      SetScanParameters(0x4B, 0x32, false),
			expected: []byte{0x00, 0x05, 0x06, 0x07, 0x4B, 0x00, 0x32, 0x00, 0x00},
		},
		{
			name:     "discover generic",
			got:      Discover(DiscoverGeneric),
			expected: []byte{0x00, 0x01, 0x06, 0x02, 0x01},
		},
		{
			name:     "end procedure",
			got:      EndProcedure(),
			expected: []byte{0x00, 0x00, 0x06, 0x04},
		},
		{
			name: "connect direct",
			got:  ConnectDirect(addr, AddressRandom, DefaultConnectionParams()),
			expected: []byte{
				0x00, 0x0F, 0x06, 0x03,
				0x55, 0x44, 0x33, 0x22, 0x11, 0xC0,
				0x01,
				0x3C, 0x00, 0x4C, 0x00, 0x64, 0x00, 0x00, 0x00,
			},
		},
		{
			name:     "disconnect",
			got:      Disconnect(0x02),
			expected: []byte{0x00, 0x01, 0x03, 0x00, 0x02},
		},
		{
			name:     "read by group type",
			got:      ReadByGroupType(0x00, 0x0001, 0xFFFF, PrimaryServiceUUID),
			expected: []byte{0x00, 0x08, 0x04, 0x01, 0x00, 0x01, 0x00, 0xFF, 0xFF, 0x02, 0x00, 0x28},
		},
		{
			name:     "find information",
			got:      FindInformation(0x01, 0x000C, 0x0018),
			expected: []byte{0x00, 0x05, 0x04, 0x03, 0x01, 0x0C, 0x00, 0x18, 0x00},
		},
		{
			name:     "attribute write",
			got:      AttributeWrite(0x00, 0x0011, []byte{'b'}),
			expected: []byte{0x00, 0x05, 0x04, 0x05, 0x00, 0x11, 0x00, 0x01, 'b'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestPayloadBounds(t *testing.T) {
	// GOAL: Verify oversize payloads are rejected instead of truncated into the length fields
	//
	// TEST SCENARIO: attribute write of 255 bytes encodes → 256 bytes panics → frame above 0x7FF panics

	full := AttributeWrite(0x00, 0x0011, make([]byte, MaxAttributeData))
	assert.Equal(t, byte(MaxAttributeData), full[7])
	assert.Len(t, full, 8+MaxAttributeData)

	assert.Panics(t, func() { AttributeWrite(0x00, 0x0011, make([]byte, MaxAttributeData+1)) })
	assert.Panics(t, func() { Frame{Type: TypeCommand, Payload: make([]byte, maxPayload+1)}.Bytes() })
	assert.NotPanics(t, func() { Frame{Type: TypeEvent, Payload: make([]byte, maxPayload)}.Bytes() })
}
