package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bluetooth off", fmt.Errorf("failed to connect: %w", device.ErrBluetoothOff), "Bluetooth is turned off. Turn it on and try again."},
		{"unsupported", device.ErrUnsupported, "BLE is not supported on this platform."},
		{
			"not a midi device",
			&blemidi.SetupError{Kind: blemidi.ServiceNotFound, UUID: blemidi.ServiceUUID, Discovered: []string{"180f"}},
			"the device is not a BLE-MIDI peripheral: MIDI service " + blemidi.ServiceUUID + " not found (discovered: 180f)",
		},
		{"connection lost", fmt.Errorf("%w: peer gone", ErrConnectionLost), "connection lost: peer gone (the device disconnected or went out of range)"},
		{"timeout", fmt.Errorf("dial: %w", context.DeadlineExceeded), "timed out: dial: context deadline exceeded"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}
