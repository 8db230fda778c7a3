package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/ganglion/internal/device"
)

// advertisement is the part of ble.Advertisement a peripheral record needs.
type advertisement interface {
	LocalName() string
	RSSI() int
	Addr() ble.Addr
}

// recordFromAdvertisement converts an advertisement into the transport-neutral
// record. The platform address string is kept as the dial ID; it is parsed
// into Address only when it is a MAC (macOS reports opaque UUIDs).
func recordFromAdvertisement(adv advertisement) device.PeripheralRecord {
	id := adv.Addr().String()
	rec := device.PeripheralRecord{
		ID:        id,
		LocalName: adv.LocalName(),
		RSSI:      adv.RSSI(),
	}
	if addr, err := device.ParseAddress(id); err == nil {
		rec.Address = addr
	}
	return rec
}

// boardCharacteristics are the characteristics the driver talks to.
type boardCharacteristics struct {
	receive *ble.Characteristic
	send    *ble.Characteristic
}

// findBoardCharacteristics locates the receive and send characteristics in a
// discovered profile.
func findBoardCharacteristics(p *ble.Profile, service, receive, send ble.UUID) (boardCharacteristics, error) {
	var chars boardCharacteristics
	if p == nil {
		return chars, fmt.Errorf("service %s not found", service)
	}
	for _, s := range p.Services {
		if !s.UUID.Equal(service) {
			continue
		}
		for _, c := range s.Characteristics {
			switch {
			case c.UUID.Equal(receive):
				chars.receive = c
			case c.UUID.Equal(send):
				chars.send = c
			}
		}
	}
	switch {
	case chars.receive == nil:
		return chars, fmt.Errorf("characteristic %s not found in service %s", receive, service)
	case chars.send == nil:
		return chars, fmt.Errorf("characteristic %s not found in service %s", send, service)
	}
	return chars, nil
}
