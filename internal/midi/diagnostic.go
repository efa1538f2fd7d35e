package midi

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// DiagnosticKind is the category of a recoverable decoding problem
type DiagnosticKind string

const (
	// MalformedPacket means a whole chunk was dropped; decoder state is unchanged.
	MalformedPacket DiagnosticKind = "malformed_packet"
	// ProtocolDesync means a run of bytes was discarded; decoding resumed after it.
	ProtocolDesync DiagnosticKind = "protocol_desync"
)

// Diagnostic describes a decoding problem. It never stops the event stream.
type Diagnostic struct {
	Kind   DiagnosticKind
	Offset int    // byte offset of the problem within the chunk, -1 if not applicable
	Bytes  []byte // discarded bytes, if any
	Reason string
}

// Error implements the error interface
func (d *Diagnostic) Error() string {
	if d == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", d.Kind, d.Reason)
	if d.Offset >= 0 {
		msg = fmt.Sprintf("%s (offset %d)", msg, d.Offset)
	}
	if len(d.Bytes) > 0 {
		msg = fmt.Sprintf("%s [% X]", msg, d.Bytes)
	}
	return msg
}

// Is allows errors.Is to compare Diagnostic values by Kind
func (d *Diagnostic) Is(target error) bool {
	if d == nil {
		return false
	}
	t, ok := target.(*Diagnostic)
	if !ok {
		return false
	}
	return d.Kind == t.Kind
}

// Predefined sentinel errors for diagnostic kinds
var (
	ErrMalformedPacket = &Diagnostic{Kind: MalformedPacket, Offset: -1}
	ErrProtocolDesync  = &Diagnostic{Kind: ProtocolDesync, Offset: -1}
)

// IsDiagnosticKind reports whether err is a Diagnostic of the given kind
func IsDiagnosticKind(err error, kind DiagnosticKind) bool {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d.Kind == kind
	}
	return false
}

// Counters is a snapshot of decoder activity
type Counters struct {
	Packets   int64
	Events    int64
	Malformed int64
	Desync    int64
}

type counters struct {
	packets   atomic.Int64
	events    atomic.Int64
	malformed atomic.Int64
	desync    atomic.Int64
}

func (c *counters) snapshot() Counters {
	return Counters{
		Packets:   c.packets.Load(),
		Events:    c.events.Load(),
		Malformed: c.malformed.Load(),
		Desync:    c.desync.Load(),
	}
}

func (c *counters) observe(d Diagnostic) {
	switch d.Kind {
	case MalformedPacket:
		c.malformed.Add(1)
	case ProtocolDesync:
		c.desync.Add(1)
	}
}
