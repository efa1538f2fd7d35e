// Package device defines the transport-neutral view of a connected BLE peer
// used by the MIDI layer: peer identity, resolved GATT attributes, the
// Transport request surface and the shared error types.
//
// Concrete transports live in sub-packages (see internal/device/go-ble).
package device
