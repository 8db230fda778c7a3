package bled112

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/ganglion/internal/device"
)

// Discover modes
const (
	DiscoverLimited     byte = 0x00
	DiscoverGeneric     byte = 0x01
	DiscoverObservation byte = 0x02
)

// Address types
const (
	AddressPublic byte = 0x00
	AddressRandom byte = 0x01
)

// MaxAttributeData is the largest value attribute_write can carry in its
// one-byte length field.
const MaxAttributeData = 0xFF

// PrimaryServiceUUID is the GATT declaration used to discover services.
const PrimaryServiceUUID uint16 = 0x2800

// ConnectionParams are the link parameters sent with connect_direct, in BGAPI units.
type ConnectionParams struct {
	IntervalMin uint16 // 1.25 ms units
	IntervalMax uint16 // 1.25 ms units
	Timeout     uint16 // 10 ms units
	Latency     uint16
}

// DefaultConnectionParams returns the parameters used by the board's reference host.
func DefaultConnectionParams() ConnectionParams {
	return ConnectionParams{
		IntervalMin: 0x3C,
		IntervalMax: 0x4C,
		Timeout:     0x64,
		Latency:     0x00,
	}
}

func command(class, cmd byte, payload ...byte) []byte {
	return Frame{Type: TypeCommand, Class: class, Command: cmd, Payload: payload}.Bytes()
}

func le16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// SetScanParameters builds gap_set_scan_parameters.
func SetScanParameters(interval, window uint16, active bool) []byte {
	p := append(le16(interval), le16(window)...)
	var a byte
	if active {
		a = 1
	}
	return command(ClassGAP, CmdGAPSetScanParameters, append(p, a)...)
}

// Discover builds gap_discover.
func Discover(mode byte) []byte {
	return command(ClassGAP, CmdGAPDiscover, mode)
}

// EndProcedure builds gap_end_procedure, which stops scanning or a pending connect.
func EndProcedure() []byte {
	return command(ClassGAP, CmdGAPEndProcedure)
}

// ConnectDirect builds gap_connect_direct. The address is written in wire order.
func ConnectDirect(addr device.Address, addrType byte, params ConnectionParams) []byte {
	wire := addr.Reversed()
	p := make([]byte, 0, 15)
	p = append(p, wire[:]...)
	p = append(p, addrType)
	p = append(p, le16(params.IntervalMin)...)
	p = append(p, le16(params.IntervalMax)...)
	p = append(p, le16(params.Timeout)...)
	p = append(p, le16(params.Latency)...)
	return command(ClassGAP, CmdGAPConnectDirect, p...)
}

// Disconnect builds connection_disconnect.
func Disconnect(conn byte) []byte {
	return command(ClassConnection, CmdConnectionDisconnect, conn)
}

// ReadByGroupType builds attclient_read_by_group_type for a 16-bit group UUID.
func ReadByGroupType(conn byte, start, end, uuid uint16) []byte {
	p := []byte{conn}
	p = append(p, le16(start)...)
	p = append(p, le16(end)...)
	p = append(p, 0x02)
	p = append(p, le16(uuid)...)
	return command(ClassAttClient, CmdAttClientReadByGroupType, p...)
}

// FindInformation builds attclient_find_information.
func FindInformation(conn byte, start, end uint16) []byte {
	p := []byte{conn}
	p = append(p, le16(start)...)
	p = append(p, le16(end)...)
	return command(ClassAttClient, CmdAttClientFindInformation, p...)
}

// AttributeWrite builds attclient_attribute_write.
func AttributeWrite(conn byte, handle uint16, data []byte) []byte {
	if len(data) > MaxAttributeData {
		panic(fmt.Sprintf("bled112: %v: attribute write of %d bytes, max %d", ErrPayloadTooLarge, len(data), MaxAttributeData))
	}
	p := []byte{conn}
	p = append(p, le16(handle)...)
	p = append(p, byte(len(data)))
	p = append(p, data...)
	return command(ClassAttClient, CmdAttClientAttributeWrite, p...)
}
