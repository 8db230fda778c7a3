package bled112

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/srg/ganglion/internal/device"
)

// Connection status flags
const (
	FlagConnected        byte = 0x01
	FlagEncrypted        byte = 0x02
	FlagCompleted        byte = 0x04
	FlagParametersChange byte = 0x08
)

// Advertising data types carrying the local name
const (
	adShortenedLocalName byte = 0x08
	adCompleteLocalName  byte = 0x09
)

// PayloadError reports a frame whose payload does not fit its message layout.
type PayloadError struct {
	Frame Frame
	Want  int
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("bled112: %s: payload has %d bytes, want at least %d", e.Frame, len(e.Frame.Payload), e.Want)
}

func expect(f Frame, t MessageType, class, cmd byte, min int) error {
	if !f.Is(t, class, cmd) {
		return fmt.Errorf("bled112: unexpected message %s", f)
	}
	if len(f.Payload) < min {
		return &PayloadError{Frame: f, Want: min}
	}
	return nil
}

func addressFromWire(b []byte) device.Address {
	var wire device.Address
	copy(wire[:], b)
	return wire.Reversed()
}

// ParseResult extracts the result code of a command response. Connection and
// attribute client responses lead with the connection handle.
func ParseResult(f Frame) (uint16, error) {
	if f.Type != TypeCommand {
		return 0, fmt.Errorf("bled112: %s is not a response", f)
	}
	off := 0
	if f.Class == ClassConnection || f.Class == ClassAttClient {
		off = 1
	}
	if len(f.Payload) < off+2 {
		return 0, &PayloadError{Frame: f, Want: off + 2}
	}
	return binary.LittleEndian.Uint16(f.Payload[off:]), nil
}

// ParseConnectDirectResponse returns the result and the allocated connection handle.
func ParseConnectDirectResponse(f Frame) (result uint16, conn byte, err error) {
	if err := expect(f, TypeCommand, ClassGAP, CmdGAPConnectDirect, 3); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint16(f.Payload), f.Payload[2], nil
}

// ScanResponse is a gap_scan_response event.
type ScanResponse struct {
	RSSI        int8
	PacketType  byte
	Address     device.Address
	AddressType byte
	Bond        byte
	Data        []byte
}

// ParseScanResponse decodes a gap_scan_response event.
func ParseScanResponse(f Frame) (ScanResponse, error) {
	if err := expect(f, TypeEvent, ClassGAP, EvtGAPScanResponse, 11); err != nil {
		return ScanResponse{}, err
	}
	p := f.Payload
	sr := ScanResponse{
		RSSI:        int8(p[0]),
		PacketType:  p[1],
		Address:     addressFromWire(p[2:8]),
		AddressType: p[8],
		Bond:        p[9],
	}
	n := int(p[10])
	if len(p) < 11+n {
		return ScanResponse{}, &PayloadError{Frame: f, Want: 11 + n}
	}
	sr.Data = p[11 : 11+n]
	return sr, nil
}

// LocalName returns the advertised name from the AD structures, if any.
func (sr ScanResponse) LocalName() string {
	var short string
	data := sr.Data
	for len(data) > 1 {
		n := int(data[0])
		if n == 0 || n+1 > len(data) {
			break
		}
		switch data[1] {
		case adCompleteLocalName:
			return string(bytes.TrimRight(data[2:n+1], "\x00"))
		case adShortenedLocalName:
			short = string(bytes.TrimRight(data[2:n+1], "\x00"))
		}
		data = data[n+1:]
	}
	return short
}

// Peripheral converts the scan response into the transport-neutral record.
func (sr ScanResponse) Peripheral() device.PeripheralRecord {
	return device.PeripheralRecord{
		ID:          sr.Address.String(),
		LocalName:   sr.LocalName(),
		Address:     sr.Address,
		AddressType: sr.AddressType,
		RSSI:        int(sr.RSSI),
	}
}

// ConnectionStatus is a connection_status event.
type ConnectionStatus struct {
	Connection   byte
	Flags        byte
	Address      device.Address
	AddressType  byte
	ConnInterval uint16
	Timeout      uint16
	Latency      uint16
	Bonding      byte
}

// ParseConnectionStatus decodes a connection_status event.
func ParseConnectionStatus(f Frame) (ConnectionStatus, error) {
	if err := expect(f, TypeEvent, ClassConnection, EvtConnectionStatus, 16); err != nil {
		return ConnectionStatus{}, err
	}
	p := f.Payload
	return ConnectionStatus{
		Connection:   p[0],
		Flags:        p[1],
		Address:      addressFromWire(p[2:8]),
		AddressType:  p[8],
		ConnInterval: binary.LittleEndian.Uint16(p[9:]),
		Timeout:      binary.LittleEndian.Uint16(p[11:]),
		Latency:      binary.LittleEndian.Uint16(p[13:]),
		Bonding:      p[15],
	}, nil
}

// Connected reports whether the link is up.
func (cs ConnectionStatus) Connected() bool {
	return cs.Flags&FlagConnected != 0
}

// LinkEvent converts the status into the transport-neutral link notification.
func (cs ConnectionStatus) LinkEvent() device.LinkEvent {
	ev := device.LinkEvent{Up: cs.Connected(), Handle: cs.Connection}
	if !ev.Up {
		ev.Reason = fmt.Sprintf("status flags 0x%02x", cs.Flags)
	}
	return ev
}

// Disconnected is a connection_disconnected event.
type Disconnected struct {
	Connection byte
	Reason     uint16
}

// ParseDisconnected decodes a connection_disconnected event.
func ParseDisconnected(f Frame) (Disconnected, error) {
	if err := expect(f, TypeEvent, ClassConnection, EvtConnectionDisconnected, 3); err != nil {
		return Disconnected{}, err
	}
	return Disconnected{
		Connection: f.Payload[0],
		Reason:     binary.LittleEndian.Uint16(f.Payload[1:]),
	}, nil
}

// LinkEvent converts the disconnect into the transport-neutral link notification.
func (d Disconnected) LinkEvent() device.LinkEvent {
	return device.LinkEvent{
		Up:     false,
		Handle: d.Connection,
		Reason: fmt.Sprintf("disconnected, reason 0x%04x", d.Reason),
	}
}

// ProcedureCompleted is an attclient_procedure_completed event.
type ProcedureCompleted struct {
	Connection byte
	Result     uint16
	CharHandle uint16
}

// ParseProcedureCompleted decodes an attclient_procedure_completed event.
func ParseProcedureCompleted(f Frame) (ProcedureCompleted, error) {
	if err := expect(f, TypeEvent, ClassAttClient, EvtAttClientProcedureCompleted, 5); err != nil {
		return ProcedureCompleted{}, err
	}
	return ProcedureCompleted{
		Connection: f.Payload[0],
		Result:     binary.LittleEndian.Uint16(f.Payload[1:]),
		CharHandle: binary.LittleEndian.Uint16(f.Payload[3:]),
	}, nil
}

// GroupFound is an attclient_group_found event.
type GroupFound struct {
	Connection byte
	Start      uint16
	End        uint16
	UUID       []byte // wire order
}

// ParseGroupFound decodes an attclient_group_found event.
func ParseGroupFound(f Frame) (GroupFound, error) {
	if err := expect(f, TypeEvent, ClassAttClient, EvtAttClientGroupFound, 6); err != nil {
		return GroupFound{}, err
	}
	p := f.Payload
	n := int(p[5])
	if len(p) < 6+n {
		return GroupFound{}, &PayloadError{Frame: f, Want: 6 + n}
	}
	return GroupFound{
		Connection: p[0],
		Start:      binary.LittleEndian.Uint16(p[1:]),
		End:        binary.LittleEndian.Uint16(p[3:]),
		UUID:       p[6 : 6+n],
	}, nil
}

// InformationFound is an attclient_find_information_found event.
type InformationFound struct {
	Connection byte
	CharHandle uint16
	UUID       []byte // wire order
}

// ParseFindInformationFound decodes an attclient_find_information_found event.
func ParseFindInformationFound(f Frame) (InformationFound, error) {
	if err := expect(f, TypeEvent, ClassAttClient, EvtAttClientFindInformationFound, 4); err != nil {
		return InformationFound{}, err
	}
	p := f.Payload
	n := int(p[3])
	if len(p) < 4+n {
		return InformationFound{}, &PayloadError{Frame: f, Want: 4 + n}
	}
	return InformationFound{
		Connection: p[0],
		CharHandle: binary.LittleEndian.Uint16(p[1:]),
		UUID:       p[4 : 4+n],
	}, nil
}

// AttributeValue is an attclient_attribute_value event: a notification from the peripheral.
type AttributeValue struct {
	Connection byte
	AttHandle  uint16
	Type       byte
	Value      []byte
}

// ParseAttributeValue decodes an attclient_attribute_value event.
func ParseAttributeValue(f Frame) (AttributeValue, error) {
	if err := expect(f, TypeEvent, ClassAttClient, EvtAttClientAttributeValue, 5); err != nil {
		return AttributeValue{}, err
	}
	p := f.Payload
	n := int(p[4])
	if len(p) < 5+n {
		return AttributeValue{}, &PayloadError{Frame: f, Want: 5 + n}
	}
	return AttributeValue{
		Connection: p[0],
		AttHandle:  binary.LittleEndian.Uint16(p[1:]),
		Type:       p[3],
		Value:      p[5 : 5+n],
	}, nil
}

// UUIDToWire converts a big-endian UUID (as printed) to BLED112 wire order.
func UUIDToWire(uuid []byte) []byte {
	out := make([]byte, len(uuid))
	for i, b := range uuid {
		out[len(uuid)-1-i] = b
	}
	return out
}
