package blemidi

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemidi/internal/device"
	"github.com/srg/blemidi/internal/midi"
)

// PeerID identifies the peer an event came from
type PeerID struct {
	Name    string
	Address string
}

func (p PeerID) String() string {
	if p.Name == "" || p.Name == p.Address {
		return p.Address
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Address)
}

// EventListener receives decoded events. OnMidiEvent runs synchronously on the
// BLE delivery goroutine and must not block.
type EventListener interface {
	OnMidiEvent(peer PeerID, ev midi.Event)
}

// EventListenerFunc adapts a function to EventListener
type EventListenerFunc func(peer PeerID, ev midi.Event)

func (f EventListenerFunc) OnMidiEvent(peer PeerID, ev midi.Event) {
	f(peer, ev)
}

// InputDevice is a MIDI source attached over BLE
type InputDevice interface {
	DeviceName() string
	DeviceAddress() string
	SetEventListener(l EventListener)
}

type listenerBox struct {
	l EventListener
}

type activeSession struct {
	started time.Time
}

// Session binds one connected peer to its own decoder. It is created when the
// peer connects and discarded on disconnect; a Session is never shared
// between peers.
type Session struct {
	peer    PeerID
	decoder *midi.Decoder
	stats   *midi.Stats
	logger  *logrus.Logger
	output  *OutputDevice // set by Central.Attach

	listener atomic.Pointer[listenerBox]
	state    atomic.Pointer[activeSession] // nil while stopped
}

// NewSession creates a stopped session for peer
func NewSession(peer device.Peer, logger *logrus.Logger, opts ...midi.Option) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Session{
		peer:   PeerID{Name: peer.Name(), Address: peer.Address()},
		stats:  midi.NewStats(),
		logger: logger,
	}
	decoderOpts := append([]midi.Option{
		midi.WithLogger(logger),
		midi.WithDiagnosticHandler(s.stats.ObserveDiagnostic),
	}, opts...)
	s.decoder = midi.NewDecoder(decoderOpts...)
	return s
}

func (s *Session) DeviceName() string {
	return s.peer.Name
}

func (s *Session) DeviceAddress() string {
	return s.peer.Address
}

func (s *Session) Peer() PeerID {
	return s.peer
}

// Output returns the output device of the same peer, or nil for sessions not
// created by a Central
func (s *Session) Output() *OutputDevice {
	return s.output
}

// SetEventListener replaces the listener; nil detaches it.
// Events decoded while no listener is set are dropped.
func (s *Session) SetEventListener(l EventListener) {
	if l == nil {
		s.listener.Store(nil)
		return
	}
	s.listener.Store(&listenerBox{l: l})
}

// Start activates decoding. Returns false if the session is already active.
func (s *Session) Start() bool {
	if !s.state.CompareAndSwap(nil, &activeSession{started: time.Now()}) {
		return false
	}
	s.decoder.Start(s.deliver)
	s.logger.WithField("address", s.peer.Address).Debug("MIDI session started")
	return true
}

// Stop deactivates decoding and clears decoder state. Notifications arriving
// afterwards are ignored. Idempotent.
func (s *Session) Stop() {
	st := s.state.Swap(nil)
	if st == nil {
		return
	}
	s.decoder.Stop()
	s.logger.WithFields(logrus.Fields{
		"address":  s.peer.Address,
		"duration": time.Since(st.started).Round(time.Millisecond),
	}).Debug("MIDI session stopped")
}

func (s *Session) Active() bool {
	return s.state.Load() != nil
}

// HandleNotification feeds one notification payload to the decoder.
// It is the handler passed to Subscriber.Configure.
func (s *Session) HandleNotification(data []byte) {
	if s.state.Load() == nil {
		return
	}
	s.decoder.Feed(data)
}

// Counters returns the decoder counters
func (s *Session) Counters() midi.Counters {
	return s.decoder.Counters()
}

// Stats returns per-kind event statistics
func (s *Session) Stats() midi.StatsSnapshot {
	return s.stats.Snapshot()
}

func (s *Session) deliver(ev midi.Event) {
	s.stats.Observe(ev)
	if box := s.listener.Load(); box != nil {
		box.l.OnMidiEvent(s.peer, ev)
	}
}

var _ InputDevice = (*Session)(nil)
