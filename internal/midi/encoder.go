package midi

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPacketSize is the notification payload available with the minimum ATT MTU of 23
	DefaultPacketSize = 20

	attHeaderSize = 3
	// header, timestamp and the longest non-SysEx message
	minPacketSize = 5
)

// ErrInvalidMessage reports a message that cannot be framed for BLE-MIDI
var ErrInvalidMessage = errors.New("invalid MIDI message")

// PacketSize returns the largest BLE-MIDI packet for an ATT MTU.
// MTUs below the BLE minimum, including 0, give DefaultPacketSize.
func PacketSize(mtu int) int {
	if mtu-attHeaderSize < DefaultPacketSize {
		return DefaultPacketSize
	}
	return mtu - attHeaderSize
}

// TimestampAt returns the 13-bit BLE-MIDI timestamp of t
func TimestampAt(t time.Time) uint16 {
	return uint16(t.UnixMilli()) & TimestampMask
}

// ValidateMessage checks that msg is exactly one complete MIDI message.
// SysEx messages must carry their 0xF0/0xF7 framing.
func ValidateMessage(msg []byte) error {
	if len(msg) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}

	status := msg[0]
	if status&headerMarker == 0 {
		return fmt.Errorf("%w: 0x%02X is not a status byte", ErrInvalidMessage, status)
	}

	body := msg[1:]
	if status == sysExStart {
		if len(msg) < 2 || msg[len(msg)-1] != sysExEnd {
			return fmt.Errorf("%w: sysex must end with 0xF7", ErrInvalidMessage)
		}
		body = msg[1 : len(msg)-1]
	} else {
		n := dataLength(status)
		if n < 0 {
			return fmt.Errorf("%w: status 0x%02X does not start a message", ErrInvalidMessage, status)
		}
		if len(body) != n {
			return fmt.Errorf("%w: status 0x%02X takes %d data bytes, got %d", ErrInvalidMessage, status, n, len(body))
		}
	}

	for _, b := range body {
		if b&headerMarker != 0 {
			return fmt.Errorf("%w: data byte 0x%02X has the top bit set", ErrInvalidMessage, b)
		}
	}
	return nil
}

// Encoder frames MIDI messages into BLE-MIDI packets of a fixed maximum size.
// It keeps no state between calls and is safe for concurrent use.
type Encoder struct {
	packetSize int
}

// NewEncoder creates an encoder for packets of up to packetSize bytes.
// Sizes too small to hold one message fall back to DefaultPacketSize.
func NewEncoder(packetSize int) *Encoder {
	if packetSize < minPacketSize {
		packetSize = DefaultPacketSize
	}
	return &Encoder{packetSize: packetSize}
}

func (e *Encoder) PacketSize() int {
	return e.packetSize
}

// Encode frames messages, all stamped with timestamp, into as few packets as
// possible. Every message gets its own timestamp byte and full status, so no
// packet depends on running status. Non-SysEx messages never straddle packets;
// a long SysEx continues in packets that carry data bytes right after the header.
func (e *Encoder) Encode(timestamp uint16, messages ...[]byte) ([][]byte, error) {
	for i, msg := range messages {
		if err := ValidateMessage(msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	ts := timestamp & TimestampMask
	w := packetWriter{
		size:   e.packetSize,
		header: headerMarker | byte(ts>>7)&timestampHigh,
		stamp:  headerMarker | byte(ts)&timestampLow,
	}

	for _, msg := range messages {
		if msg[0] != sysExStart {
			w.reserve(1 + len(msg))
			w.put(w.stamp)
			w.put(msg...)
			continue
		}

		w.reserve(2)
		w.put(w.stamp, sysExStart)
		payload := msg[1 : len(msg)-1]
		for len(payload) > 0 {
			w.reserve(1)
			n := min(w.room(), len(payload))
			w.put(payload[:n]...)
			payload = payload[n:]
		}
		w.reserve(2)
		w.put(w.stamp, sysExEnd)
	}

	w.flush()
	return w.packets, nil
}

type packetWriter struct {
	size   int
	header byte
	stamp  byte

	cur     []byte
	packets [][]byte
}

func (w *packetWriter) room() int {
	if w.cur == nil {
		return 0
	}
	return w.size - len(w.cur)
}

// reserve starts a new packet unless n more bytes fit into the current one
func (w *packetWriter) reserve(n int) {
	if w.room() >= n {
		return
	}
	w.flush()
	w.cur = make([]byte, 1, w.size)
	w.cur[0] = w.header
}

func (w *packetWriter) put(b ...byte) {
	w.cur = append(w.cur, b...)
}

func (w *packetWriter) flush() {
	if len(w.cur) > 1 {
		w.packets = append(w.packets, w.cur)
	}
	w.cur = nil
}
