package blemidi

import "github.com/srg/blemidi/internal/device"

// GATT identifiers of the BLE-MIDI profile, in normalized form
const (
	ServiceUUID        = device.MIDIService
	CharacteristicUUID = device.MIDICharacteristic
	ClientConfigUUID   = device.DescriptorClientConfig
)

// EnableNotificationValue returns the CCCD value that turns notifications on ({0x01, 0x00}).
func EnableNotificationValue() []byte {
	return device.EnableNotifications.Bytes()
}
