package main

import (
	"bytes"
	"testing"

	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/midi"
	"github.com/srg/blemidi/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestFormatEvent(t *testing.T) {
	noteOn := midi.Event{Data: []byte{0x90, 0x3c, 0x7f}, Timestamp: 42}
	sysex := midi.Event{Data: []byte{0xf0, 0x41, 0x10, 0xf7}, Timestamp: 8191}

	assert.Equal(t, "[0042] 903c7f", FormatEvent(config.FormatHex, noteOn))
	assert.Equal(t, "[8191] f04110f7", FormatEvent(config.FormatHex, sysex))
	assert.Equal(t, "[8191] SysEx 41 10", FormatEvent(config.FormatText, sysex))
	assert.Contains(t, FormatEvent(config.FormatText, noteOn), "NoteOn")
}

func TestEventPrinter(t *testing.T) {
	t.Run("plain output for non-terminal writers", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewEventPrinter(&buf, config.FormatHex, false)

		p.PrintEvent(blemidi.PeerID{Address: "aa:bb"}, midi.Event{Data: []byte{0xf8}, Timestamp: 1})

		assert.Equal(t, "[0001] f8\n", buf.String(), "no escape sequences MUST be written")
	})

	t.Run("peer prefix", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewEventPrinter(&buf, config.FormatHex, true)

		p.PrintEvent(blemidi.PeerID{Name: "Keys", Address: "aa:bb"}, midi.Event{Data: []byte{0xc0, 0x05}})

		assert.Equal(t, "aa:bb [0000] c005\n", buf.String())
	})

	t.Run("diagnostic", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewEventPrinter(&buf, config.FormatText, false)

		p.PrintDiagnostic(midi.Diagnostic{Kind: midi.ProtocolDesync, Offset: 2, Reason: "orphan data bytes", Bytes: []byte{0x3c}})

		assert.Equal(t, "! protocol_desync: orphan data bytes (offset 2) [3C]\n", buf.String())
	})
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewEventPrinter(&buf, config.FormatText, false)

	p.PrintSummary(midi.StatsSnapshot{
		Kinds: []midi.KindCount{
			{Kind: midi.KindNoteOn, Count: 3},
			{Kind: midi.KindRealtime, Count: 1},
		},
		Events: 4,
		Diagnostics: map[midi.DiagnosticKind]int64{
			midi.ProtocolDesync:  2,
			midi.MalformedPacket: 1,
		},
	}, midi.Counters{Packets: 5, Events: 4}, 7)

	out := buf.String()
	assert.Contains(t, out, "Summary\n")
	assert.Contains(t, out, "packets: 5  events: 4\n")
	assert.Contains(t, out, "note_on:         3\n")
	assert.Contains(t, out, "realtime:        1\n")
	assert.Contains(t, out, "diagnostics: malformed_packet=1 protocol_desync=2\n", "diagnostics MUST be sorted by kind")
	assert.Contains(t, out, "dropped output lines: 7\n")
}
