package blemidi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemidi/internal/device"
	"github.com/srg/blemidi/internal/midi"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// OutputOption configures an OutputDevice
type OutputOption func(*OutputDevice)

// WithPacketSize overrides the packet size derived from the transport MTU
func WithPacketSize(n int) OutputOption {
	return func(o *OutputDevice) {
		o.encoder = midi.NewEncoder(n)
	}
}

// WithOutputClock overrides the clock used for outgoing timestamps
func WithOutputClock(now func() time.Time) OutputOption {
	return func(o *OutputDevice) {
		if now != nil {
			o.now = now
		}
	}
}

// OutputDevice is a MIDI destination attached over BLE. Messages are framed
// into BLE-MIDI packets and written to the MIDI I/O characteristic.
type OutputDevice struct {
	peer    PeerID
	t       device.Transport
	char    device.Characteristic
	encoder *midi.Encoder
	now     func() time.Time
	logger  *logrus.Logger

	mu     sync.Mutex // keeps packets of one Send together
	closed atomic.Bool
	sent   atomic.Int64
}

// NewOutputDevice resolves the MIDI characteristic of t for writing. The packet
// size follows the negotiated MTU when t reports one.
func NewOutputDevice(ctx context.Context, t device.Transport, logger *logrus.Logger, opts ...OutputOption) (*OutputDevice, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}

	char, err := resolveCharacteristic(ctx, t, logger.WithField("address", t.Address()))
	if err != nil {
		return nil, err
	}

	packetSize := midi.DefaultPacketSize
	if m, ok := t.(interface{ MTU() int }); ok {
		packetSize = midi.PacketSize(m.MTU())
	}

	o := &OutputDevice{
		peer:    PeerID{Name: t.Name(), Address: t.Address()},
		t:       t,
		char:    char,
		encoder: midi.NewEncoder(packetSize),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *OutputDevice) DeviceName() string {
	return o.peer.Name
}

func (o *OutputDevice) DeviceAddress() string {
	return o.peer.Address
}

func (o *OutputDevice) Peer() PeerID {
	return o.peer
}

// PacketsSent returns how many packets were written successfully
func (o *OutputDevice) PacketsSent() int64 {
	return o.sent.Load()
}

// Close makes every further Send fail with ErrOutputClosed. Idempotent.
func (o *OutputDevice) Close() {
	o.closed.Store(true)
}

// Send stamps messages with the current time and writes them in order, packed
// into as few packets as the packet size allows. It returns after the last
// packet is written or on the first failed write.
func (o *OutputDevice) Send(messages ...gomidi.Message) error {
	if o.closed.Load() {
		return ErrOutputClosed
	}
	if len(messages) == 0 {
		return nil
	}

	raw := make([][]byte, len(messages))
	for i, msg := range messages {
		raw[i] = msg
	}
	packets, err := o.encoder.Encode(midi.TimestampAt(o.now()), raw...)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for i, packet := range packets {
		if o.closed.Load() {
			return ErrOutputClosed
		}
		if err := o.t.WriteCharacteristic(o.char, packet); err != nil {
			return fmt.Errorf("failed to write BLE-MIDI packet %d of %d: %w", i+1, len(packets), err)
		}
		o.sent.Add(1)
	}

	o.logger.WithFields(logrus.Fields{
		"address":  o.peer.Address,
		"messages": len(messages),
		"packets":  len(packets),
	}).Debug("MIDI messages sent")
	return nil
}

func (o *OutputDevice) NoteOn(channel, key, velocity uint8) error {
	return o.Send(gomidi.NoteOn(channel, key, velocity))
}

func (o *OutputDevice) NoteOff(channel, key uint8) error {
	return o.Send(gomidi.NoteOff(channel, key))
}

func (o *OutputDevice) ControlChange(channel, controller, value uint8) error {
	return o.Send(gomidi.ControlChange(channel, controller, value))
}

func (o *OutputDevice) ProgramChange(channel, program uint8) error {
	return o.Send(gomidi.ProgramChange(channel, program))
}

// PitchBend sends a bend in -8192..8191, 0 being the centre
func (o *OutputDevice) PitchBend(channel uint8, value int16) error {
	return o.Send(gomidi.Pitchbend(channel, value))
}

// SysEx sends payload framed with 0xF0/0xF7
func (o *OutputDevice) SysEx(payload []byte) error {
	return o.Send(gomidi.SysEx(payload))
}
