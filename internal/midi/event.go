package midi

import (
	"encoding/hex"
	"fmt"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// TimestampMask limits a BLE-MIDI timestamp to its 13 significant bits.
const TimestampMask = 0x1fff

// Kind classifies a decoded MIDI message
type Kind int

const (
	KindUnknown Kind = iota
	KindNoteOff
	KindNoteOn
	KindPolyPressure
	KindControlChange
	KindProgramChange
	KindChannelPressure
	KindPitchBend
	KindSysEx
	KindSystemCommon
	KindRealtime
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNoteOff:         "note_off",
	KindNoteOn:          "note_on",
	KindPolyPressure:    "poly_pressure",
	KindControlChange:   "control_change",
	KindProgramChange:   "program_change",
	KindChannelPressure: "channel_pressure",
	KindPitchBend:       "pitch_bend",
	KindSysEx:           "sysex",
	KindSystemCommon:    "system_common",
	KindRealtime:        "realtime",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf returns the message kind for a status byte
func KindOf(status byte) Kind {
	switch {
	case status < 0x80:
		return KindUnknown
	case status == 0xf0:
		return KindSysEx
	case status >= 0xf8:
		return KindRealtime
	case status > 0xf0:
		return KindSystemCommon
	}

	switch status & 0xf0 {
	case 0x80:
		return KindNoteOff
	case 0x90:
		return KindNoteOn
	case 0xa0:
		return KindPolyPressure
	case 0xb0:
		return KindControlChange
	case 0xc0:
		return KindProgramChange
	case 0xd0:
		return KindChannelPressure
	default:
		return KindPitchBend
	}
}

// Event is one decoded MIDI message.
//
// Data holds the complete message starting with its status byte. SysEx events
// keep the 0xF0 / 0xF7 framing so Data is always a valid MIDI 1.0 message.
// Events are immutable once emitted; consumers must not modify Data.
type Event struct {
	Data      []byte
	Timestamp uint16    // 13-bit BLE-MIDI timestamp, milliseconds
	Received  time.Time // arrival time of the packet that completed the message
}

// Status returns the status byte, or 0 for an empty event
func (e Event) Status() byte {
	if len(e.Data) == 0 {
		return 0
	}
	return e.Data[0]
}

func (e Event) Kind() Kind {
	return KindOf(e.Status())
}

// Channel returns the zero-based MIDI channel for channel voice messages.
func (e Event) Channel() (uint8, bool) {
	s := e.Status()
	if s < 0x80 || s >= 0xf0 {
		return 0, false
	}
	return s & 0x0f, true
}

// SysExPayload returns the bytes between 0xF0 and 0xF7, or nil for other kinds.
func (e Event) SysExPayload() []byte {
	if e.Kind() != KindSysEx || len(e.Data) < 2 {
		return nil
	}
	return e.Data[1 : len(e.Data)-1]
}

// Message exposes the event through the gomidi message API (GetNoteOn, GetSysEx, ...).
func (e Event) Message() gomidi.Message {
	return gomidi.Message(e.Data)
}

func (e Event) String() string {
	if e.Kind() == KindSysEx {
		return fmt.Sprintf("[%04d] SysEx % X", e.Timestamp, e.SysExPayload())
	}
	return fmt.Sprintf("[%04d] %s", e.Timestamp, e.Message().String())
}

// Hex returns the raw message bytes as a hex string
func (e Event) Hex() string {
	return hex.EncodeToString(e.Data)
}

// dataLength returns how many data bytes follow a status byte, or -1 when the
// status byte does not start a message of fixed length.
func dataLength(status byte) int {
	switch {
	case status < 0x80:
		return -1
	case status < 0xf0:
		switch status & 0xf0 {
		case 0xc0, 0xd0:
			return 1
		default:
			return 2
		}
	}

	switch status {
	case 0xf1, 0xf3:
		return 1
	case 0xf2:
		return 2
	case 0xf6:
		return 0
	case 0xf8, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff:
		return 0
	default:
		// 0xf0 and 0xf7 frame SysEx, 0xf4 and 0xf5 are undefined
		return -1
	}
}
