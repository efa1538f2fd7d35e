package blemidi

import (
	"context"
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemidi/internal/device"
	"github.com/srg/blemidi/internal/midi"
)

// CentralOption configures a Central
type CentralOption func(*Central)

func WithLogger(logger *logrus.Logger) CentralOption {
	return func(c *Central) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventListener sets the listener applied to every new session
func WithEventListener(l EventListener) CentralOption {
	return func(c *Central) {
		c.listener = l
	}
}

// WithDecoderOptions passes options to the decoder of every new session
func WithDecoderOptions(opts ...midi.Option) CentralOption {
	return func(c *Central) {
		c.decoderOpts = append(c.decoderOpts, opts...)
	}
}

// WithOutputOptions passes options to the output device of every new session
func WithOutputOptions(opts ...OutputOption) CentralOption {
	return func(c *Central) {
		c.outputOpts = append(c.outputOpts, opts...)
	}
}

// OnAttached registers a callback fired when a new peer is attached
func OnAttached(fn func(*Session)) CentralOption {
	return func(c *Central) {
		c.onAttached = fn
	}
}

// OnDetached registers a callback fired when a peer is detached
func OnDetached(fn func(*Session)) CentralOption {
	return func(c *Central) {
		c.onDetached = fn
	}
}

// Central tracks the MIDI sessions of all connected peers, keyed by address.
type Central struct {
	logger      *logrus.Logger
	subscriber  *Subscriber
	listener    EventListener
	decoderOpts []midi.Option
	outputOpts  []OutputOption
	onAttached  func(*Session)
	onDetached  func(*Session)

	mu       sync.Mutex // serializes Attach/Detach
	sessions *hashmap.Map[string, *Session]
}

func NewCentral(opts ...CentralOption) *Central {
	c := &Central{
		logger:   logrus.New(),
		sessions: hashmap.New[string, *Session](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subscriber = NewSubscriber(c.logger)
	return c
}

// Attach configures MIDI notifications on t and starts a session for it. The
// session's output device writes to the same characteristic.
// A session already attached for the same address is stopped and replaced;
// OnAttached fires only for addresses that were not attached before.
func (c *Central) Attach(ctx context.Context, t device.Transport) (*Session, error) {
	session := NewSession(t, c.logger, c.decoderOpts...)
	if c.listener != nil {
		session.SetEventListener(c.listener)
	}
	session.Start()

	if err := c.subscriber.Configure(ctx, t, session.HandleNotification); err != nil {
		session.Stop()
		return nil, err
	}
	output, err := NewOutputDevice(ctx, t, c.logger, c.outputOpts...)
	if err != nil {
		session.Stop()
		return nil, err
	}
	session.output = output

	c.mu.Lock()
	previous, replaced := c.sessions.Get(t.Address())
	c.sessions.Set(t.Address(), session)
	c.mu.Unlock()

	if replaced {
		previous.Stop()
		previous.SetEventListener(nil)
		previous.output.Close()
		c.logger.WithField("address", t.Address()).Debug("Replaced existing MIDI session")
		return session, nil
	}

	c.logger.WithFields(logrus.Fields{
		"address": t.Address(),
		"name":    t.Name(),
	}).Info("MIDI device attached")
	if c.onAttached != nil {
		c.onAttached(session)
	}
	return session, nil
}

// Detach stops and removes the session for address. Returns false if nothing was attached.
func (c *Central) Detach(address string) bool {
	c.mu.Lock()
	session, ok := c.sessions.Get(address)
	if ok {
		c.sessions.Del(address)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	session.Stop()
	session.SetEventListener(nil)
	session.output.Close()
	c.logger.WithField("address", address).Info("MIDI device detached")
	if c.onDetached != nil {
		c.onDetached(session)
	}
	return true
}

// Session returns the session attached for address
func (c *Central) Session(address string) (*Session, bool) {
	return c.sessions.Get(address)
}

// Sessions returns a snapshot of attached sessions sorted by address
func (c *Central) Sessions() []*Session {
	out := make([]*Session, 0, c.sessions.Len())
	c.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceAddress() < out[j].DeviceAddress()
	})
	return out
}

// OutputDevices returns the output devices of attached sessions sorted by address
func (c *Central) OutputDevices() []*OutputDevice {
	sessions := c.Sessions()
	out := make([]*OutputDevice, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.output)
	}
	return out
}

// Terminate detaches every session
func (c *Central) Terminate() {
	for _, s := range c.Sessions() {
		c.Detach(s.DeviceAddress())
	}
}
