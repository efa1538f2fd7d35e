package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost while listening.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a peripheral that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns known errors into a one-line hint for the terminal.
// Unknown errors are printed as is.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "BLE is not supported on this platform."
	case errors.Is(err, blemidi.ErrServiceNotFound):
		return fmt.Sprintf("the device is not a BLE-MIDI peripheral: %v", err)
	case errors.Is(err, blemidi.ErrCharacteristicNotFound):
		return fmt.Sprintf("the device exposes the MIDI service without its I/O characteristic: %v", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v (the device disconnected or went out of range)", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out: %v", err)
	default:
		return err.Error()
	}
}
