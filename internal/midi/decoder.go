package midi

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

const (
	// DefaultMaxSysExSize bounds the SysEx accumulator. Longer messages are discarded.
	DefaultMaxSysExSize = 4096

	headerMarker   = 0x80
	timestampHigh  = 0x3f
	timestampLow   = 0x7f
	sysExStart     = 0xf0
	sysExEnd       = 0xf7
	realtimeStatus = 0xf8
)

// Sink receives decoded events synchronously from Feed.
type Sink func(Event)

// DiagnosticHandler receives decoding diagnostics after the state lock is released.
type DiagnosticHandler func(Diagnostic)

// Option configures a Decoder
type Option func(*Decoder)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp Event.Received
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDiagnosticHandler registers a callback for MalformedPacket / ProtocolDesync reports.
// Handlers registered by repeated options are called in registration order.
func WithDiagnosticHandler(fn DiagnosticHandler) Option {
	return func(d *Decoder) {
		if fn == nil {
			return
		}
		prev := d.onDiagnostic
		if prev == nil {
			d.onDiagnostic = fn
			return
		}
		d.onDiagnostic = func(diag Diagnostic) {
			prev(diag)
			fn(diag)
		}
	}
}

// WithMaxSysExSize sets the SysEx accumulator capacity in bytes (payload only)
func WithMaxSysExSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxSysEx = n
		}
	}
}

// binding is the Active variant of the decoder lifecycle; a nil binding means Stopped.
type binding struct {
	sink Sink
}

// Decoder reconstructs MIDI events from BLE-MIDI notification packets.
//
// Feed is meant to be called from the transport's notification goroutine, while
// Start, Stop and Reset may be called from any goroutine. Running status, an open
// SysEx and the timestamp parts persist across Feed calls.
type Decoder struct {
	logger       *logrus.Logger
	now          func() time.Time
	onDiagnostic DiagnosticHandler
	maxSysEx     int

	active atomic.Pointer[binding]

	// guarded by mu
	mu            sync.Mutex
	runningStatus byte
	sysex         *ringbuffer.RingBuffer
	sysexOpen     bool
	sysexStamp    uint16
	tsHigh        uint16
	tsLow         uint16
	tsSeen        bool

	counters counters
}

// NewDecoder creates a stopped decoder
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		logger:   logrus.New(),
		now:      time.Now,
		maxSysEx: DefaultMaxSysExSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sysex = ringbuffer.New(d.maxSysEx)
	return d
}

// Start clears the decoder state and begins delivering events to sink.
// Calling Start on an active decoder replaces the sink.
func (d *Decoder) Start(sink Sink) {
	if sink == nil {
		sink = func(Event) {}
	}

	d.mu.Lock()
	d.resetLocked()
	d.active.Store(&binding{sink: sink})
	d.mu.Unlock()

	d.logger.Debug("BLE-MIDI decoder started")
}

// Stop makes every subsequent Feed a no-op. It waits for an in-flight decode
// to leave the state lock and then clears the state. An in-flight Feed delivers
// no further events once Stop has returned, except a sink call already running.
func (d *Decoder) Stop() {
	if d.active.Swap(nil) == nil {
		return
	}

	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()

	d.logger.Debug("BLE-MIDI decoder stopped")
}

// Active reports whether the decoder accepts packets
func (d *Decoder) Active() bool {
	return d.active.Load() != nil
}

// Reset clears running status, any open SysEx and the timestamp parts.
// Used after a detected desynchronisation; the lifecycle state is not changed.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Counters returns a snapshot of the decoder activity counters
func (d *Decoder) Counters() Counters {
	return d.counters.snapshot()
}

// Feed decodes one notification payload. Every completed event is passed to the
// sink in byte order and also returned. Feed never blocks on I/O.
func (d *Decoder) Feed(chunk []byte) []Event {
	b := d.active.Load()
	if b == nil {
		return nil
	}

	received := d.now()

	d.mu.Lock()
	if d.active.Load() == nil {
		// stopped while waiting for the lock
		d.mu.Unlock()
		return nil
	}
	p := d.decodeLocked(chunk, received)
	d.mu.Unlock()

	d.report(p.diagnostics)

	d.counters.packets.Add(1)
	d.counters.events.Add(int64(len(p.events)))
	for _, ev := range p.events {
		if d.active.Load() != b {
			// stopped or restarted during delivery
			break
		}
		b.sink(ev)
	}
	return p.events
}

func (d *Decoder) resetLocked() {
	d.runningStatus = 0
	d.sysex.Reset()
	d.sysexOpen = false
	d.sysexStamp = 0
	d.tsHigh = 0
	d.tsLow = 0
	d.tsSeen = false
}

func (d *Decoder) report(diagnostics []Diagnostic) {
	for _, diag := range diagnostics {
		d.counters.observe(diag)

		entry := d.logger.WithFields(logrus.Fields{
			"kind":   diag.Kind,
			"offset": diag.Offset,
			"reason": diag.Reason,
		})
		if diag.Kind == MalformedPacket {
			entry.Warn("Dropped malformed BLE-MIDI packet")
		} else {
			entry.WithField("bytes", fmt.Sprintf("% X", diag.Bytes)).Debug("Discarded bytes to resynchronise BLE-MIDI stream")
		}

		if d.onDiagnostic != nil {
			d.onDiagnostic(diag)
		}
	}
}

// packet holds the per-chunk scan state. Only running status, SysEx and the
// timestamp parts outlive a chunk.
type packet struct {
	received        time.Time
	expectTimestamp bool

	msg         []byte // incomplete channel or system common message
	msgOffset   int
	need        int
	interrupted bool // a timestamp byte arrived while msg was incomplete

	skipped    []byte
	skipOffset int

	events      []Event
	diagnostics []Diagnostic
}

func (p *packet) pending() bool {
	return len(p.msg) > 0
}

func (p *packet) begin(offset int, status byte) {
	p.msg = append(p.msg[:0], status)
	p.msgOffset = offset
	p.need = dataLength(status)
}

func (p *packet) resetMessage() {
	p.msg = p.msg[:0]
	p.need = 0
	p.interrupted = false
}

func (p *packet) skip(offset int, b byte) {
	if len(p.skipped) == 0 {
		p.skipOffset = offset
	}
	p.skipped = append(p.skipped, b)
}

func (p *packet) flushSkipped() {
	if len(p.skipped) == 0 {
		return
	}
	p.diagnose(ProtocolDesync, p.skipOffset, p.skipped, "data bytes without running status")
	p.skipped = p.skipped[:0]
}

func (p *packet) diagnose(kind DiagnosticKind, offset int, data []byte, reason string) {
	var discarded []byte
	if len(data) > 0 {
		discarded = append([]byte(nil), data...)
	}
	p.diagnostics = append(p.diagnostics, Diagnostic{
		Kind:   kind,
		Offset: offset,
		Bytes:  discarded,
		Reason: reason,
	})
}

func (d *Decoder) decodeLocked(chunk []byte, received time.Time) *packet {
	p := &packet{received: received}

	if len(chunk) == 0 {
		p.diagnose(MalformedPacket, -1, nil, "empty packet")
		return p
	}
	if chunk[0]&headerMarker == 0 {
		p.diagnose(MalformedPacket, 0, chunk[:1], fmt.Sprintf("header byte 0x%02X has no marker bit", chunk[0]))
		return p
	}

	d.tsHigh = uint16(chunk[0] & timestampHigh)
	d.tsLow = 0
	d.tsSeen = false
	p.expectTimestamp = true

	for i := 1; i < len(chunk); i++ {
		d.step(p, i, chunk[i])
	}

	p.flushSkipped()
	if p.pending() {
		p.diagnose(ProtocolDesync, p.msgOffset, p.msg, "message truncated at end of packet")
		p.resetMessage()
	}
	return p
}

func (d *Decoder) step(p *packet, i int, b byte) {
	if !d.sysexOpen && p.pending() && !p.interrupted && b&headerMarker != 0 {
		// a top-bit byte inside a message is always a timestamp; it may only
		// introduce an interleaved realtime byte
		d.setTimestamp(b)
		p.interrupted = true
		return
	}
	if d.orphan(p, b) {
		p.skip(i, b)
		if b&headerMarker != 0 {
			p.expectTimestamp = true
		}
		return
	}
	p.flushSkipped()

	switch {
	case d.sysexOpen:
		d.stepSysEx(p, i, b)
	case b&headerMarker == 0:
		d.stepData(p, i, b)
	case p.expectTimestamp:
		d.setTimestamp(b)
		p.expectTimestamp = false
	default:
		d.stepStatus(p, i, b)
	}
}

// orphan reports bytes that have no valid position in the grammar
func (d *Decoder) orphan(p *packet, b byte) bool {
	if d.sysexOpen {
		return false
	}
	if b&headerMarker == 0 {
		return !p.pending() && d.runningStatus == 0
	}
	if p.expectTimestamp {
		return false
	}
	return b != sysExStart && dataLength(b) < 0
}

func (d *Decoder) stepData(p *packet, i int, b byte) {
	if !p.pending() {
		p.begin(i, d.runningStatus)
	}
	p.msg = append(p.msg, b)
	p.need--
	p.interrupted = false
	if p.need == 0 {
		d.emit(p, p.msg)
		p.resetMessage()
		p.expectTimestamp = true
	}
}

func (d *Decoder) stepStatus(p *packet, i int, b byte) {
	if b >= realtimeStatus {
		d.emit(p, []byte{b})
		p.interrupted = false
		if !p.pending() {
			p.expectTimestamp = true
		}
		return
	}

	if p.pending() {
		p.diagnose(ProtocolDesync, p.msgOffset, p.msg, fmt.Sprintf("message interrupted by status 0x%02X", b))
		p.resetMessage()
	}

	switch {
	case b == sysExStart:
		d.runningStatus = 0
		d.openSysEx()
		p.expectTimestamp = true
	case b < sysExStart:
		d.runningStatus = b
		p.begin(i, b)
	default:
		// system common messages cancel running status
		d.runningStatus = 0
		p.begin(i, b)
		if p.need == 0 {
			d.emit(p, p.msg)
			p.resetMessage()
			p.expectTimestamp = true
		}
	}
}

func (d *Decoder) stepSysEx(p *packet, i int, b byte) {
	if b&headerMarker == 0 {
		if err := d.sysex.WriteByte(b); err != nil {
			d.abortSysEx(p, i, fmt.Sprintf("sysex longer than %d bytes", d.maxSysEx))
			return
		}
		p.expectTimestamp = true
		return
	}

	if p.expectTimestamp {
		d.setTimestamp(b)
		p.expectTimestamp = false
		return
	}

	switch {
	case b == sysExEnd:
		d.closeSysEx(p)
		p.expectTimestamp = true
	case b >= realtimeStatus:
		d.emit(p, []byte{b})
		p.expectTimestamp = true
	default:
		d.abortSysEx(p, i, fmt.Sprintf("status 0x%02X inside sysex", b))
		d.step(p, i, b)
	}
}

func (d *Decoder) openSysEx() {
	d.sysex.Reset()
	d.sysexOpen = true
	d.sysexStamp = d.timestamp()
}

func (d *Decoder) closeSysEx(p *packet) {
	n := d.sysex.Length()
	data := make([]byte, n+2)
	data[0] = sysExStart
	if n > 0 {
		if _, err := d.sysex.Read(data[1 : n+1]); err != nil {
			d.abortSysEx(p, -1, fmt.Sprintf("sysex buffer read failed: %v", err))
			return
		}
	}
	data[n+1] = sysExEnd

	d.sysex.Reset()
	d.sysexOpen = false
	p.events = append(p.events, Event{
		Data:      data,
		Timestamp: d.sysexStamp,
		Received:  p.received,
	})
}

func (d *Decoder) abortSysEx(p *packet, i int, reason string) {
	p.diagnose(ProtocolDesync, i, nil, fmt.Sprintf("%s, dropped %d buffered bytes", reason, d.sysex.Length()))
	d.sysex.Reset()
	d.sysexOpen = false
}

func (d *Decoder) emit(p *packet, msg []byte) {
	p.events = append(p.events, Event{
		Data:      append([]byte(nil), msg...),
		Timestamp: d.timestamp(),
		Received:  p.received,
	})
}

// setTimestamp applies a timestamp byte. A low part smaller than the previous
// one within the same packet means the high part rolled over.
func (d *Decoder) setTimestamp(b byte) {
	low := uint16(b & timestampLow)
	if d.tsSeen && low < d.tsLow {
		d.tsHigh = (d.tsHigh + 1) & timestampHigh
	}
	d.tsLow = low
	d.tsSeen = true
}

func (d *Decoder) timestamp() uint16 {
	return (d.tsHigh<<7 | d.tsLow) & TimestampMask
}
