package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blemidi/internal/device"
)

// errorPatterns maps lower-cased go-ble message fragments to sentinels. First match wins.
var errorPatterns = []struct {
	fragment string
	sentinel error
}{
	{"is bluetooth turned on", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"device already connected", device.ErrAlreadyConnected},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"connection is not initialized", device.ErrNotInitialized},
	{"not supported", device.ErrUnsupported},
	{"timed out", device.ErrTimeout},
}

// NormalizeError wraps go-ble errors whose message is recognized with the matching
// device sentinel, keeping the original text. Unrecognized errors are returned as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.sentinel, err)
		}
	}
	return err
}
