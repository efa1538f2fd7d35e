package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/srg/blemidi/internal/blemidi"
	"github.com/srg/blemidi/internal/midi"
	"github.com/srg/blemidi/pkg/config"
	"golang.org/x/term"
)

// EventPrinter renders decoded events, diagnostics and the session summary
type EventPrinter struct {
	w        io.Writer
	format   string
	withPeer bool

	channel  *color.Color
	sysex    *color.Color
	realtime *color.Color
	warn     *color.Color
	header   *color.Color
}

// NewEventPrinter creates a printer for format (config.FormatText or config.FormatHex).
// Colors are used only when w is a terminal.
func NewEventPrinter(w io.Writer, format string, withPeer bool) *EventPrinter {
	p := &EventPrinter{
		w:        w,
		format:   format,
		withPeer: withPeer,
		channel:  color.New(color.FgGreen),
		sysex:    color.New(color.FgMagenta),
		realtime: color.New(color.FgCyan),
		warn:     color.New(color.FgYellow),
		header:   color.New(color.Bold),
	}
	if !isTerminal(w) {
		for _, c := range []*color.Color{p.channel, p.sysex, p.realtime, p.warn, p.header} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// FormatEvent returns the single-line rendering of ev without color
func FormatEvent(format string, ev midi.Event) string {
	if format == config.FormatHex {
		return fmt.Sprintf("[%04d] %s", ev.Timestamp, ev.Hex())
	}
	return ev.String()
}

// PrintEvent writes one event line
func (p *EventPrinter) PrintEvent(peer blemidi.PeerID, ev midi.Event) {
	line := FormatEvent(p.format, ev)
	if p.withPeer {
		line = fmt.Sprintf("%s %s", peer.Address, line)
	}

	var c *color.Color
	switch ev.Kind() {
	case midi.KindSysEx:
		c = p.sysex
	case midi.KindRealtime, midi.KindSystemCommon:
		c = p.realtime
	default:
		c = p.channel
	}
	c.Fprintln(p.w, line)
}

// PrintDiagnostic writes a decoder diagnostic as a warning line
func (p *EventPrinter) PrintDiagnostic(d midi.Diagnostic) {
	p.warn.Fprintf(p.w, "! %s\n", d.Error())
}

// PrintSummary writes per-kind counts, diagnostics and dropped output lines
func (p *EventPrinter) PrintSummary(stats midi.StatsSnapshot, counters midi.Counters, dropped int64) {
	p.header.Fprintln(p.w, "Summary")
	fmt.Fprintf(p.w, "  packets: %d  events: %d\n", counters.Packets, counters.Events)
	for _, kc := range stats.Kinds {
		fmt.Fprintf(p.w, "  %-16s %d\n", kc.Kind.String()+":", kc.Count)
	}

	if len(stats.Diagnostics) > 0 {
		kinds := make([]string, 0, len(stats.Diagnostics))
		for k := range stats.Diagnostics {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s=%d", k, stats.Diagnostics[midi.DiagnosticKind(k)]))
		}
		p.warn.Fprintf(p.w, "  diagnostics: %s\n", strings.Join(parts, " "))
	}
	if dropped > 0 {
		p.warn.Fprintf(p.w, "  dropped output lines: %d\n", dropped)
	}
}
