package device

import (
	"encoding/binary"
	"fmt"
)

// ClientConfig represents the Client Characteristic Configuration descriptor (0x2902)
type ClientConfig struct {
	Notifications bool // Notifications enabled
	Indications   bool // Indications enabled
}

// EnableNotifications is the CCCD value that turns on notifications (0x0001, little-endian)
var EnableNotifications = ClientConfig{Notifications: true}

// Bytes encodes the descriptor value as 2 little-endian bytes
func (c ClientConfig) Bytes() []byte {
	var value uint16
	if c.Notifications {
		value |= 0x0001
	}
	if c.Indications {
		value |= 0x0002
	}
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, value)
	return out
}

func (c ClientConfig) String() string {
	switch {
	case c.Notifications && c.Indications:
		return "notifications+indications"
	case c.Notifications:
		return "notifications"
	case c.Indications:
		return "indications"
	default:
		return "disabled"
	}
}

// ParseClientConfig parses the Client Characteristic Configuration descriptor value.
// The descriptor is 2 bytes: bit 0 = Notifications, bit 1 = Indications.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("invalid length for client config: expected 2, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data)
	return &ClientConfig{
		Notifications: (value & 0x0001) != 0,
		Indications:   (value & 0x0002) != 0,
	}, nil
}

// IsClientConfig reports whether a descriptor is a CCCD
func IsClientConfig(d Descriptor) bool {
	return d != nil && NormalizeUUID(d.UUID()) == DescriptorClientConfig
}
