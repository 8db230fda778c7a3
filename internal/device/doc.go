// Package device holds the transport-neutral vocabulary shared by the driver
// session and its link implementations.
//
// It defines:
//   - PeripheralRecord and Address, produced by discovery on either transport
//   - LinkEvent, the normalized connect/disconnect notification
//   - the Transport and Sink capability interfaces
//   - the error taxonomy (StateError, TransportError, NotFoundError, ErrTimeout)
//
// Native BLE lives in the go-ble subpackage; the serial bridge lives in
// internal/bled112. Both satisfy Transport so one state machine drives either.
package device
