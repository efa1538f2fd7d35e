// Package ringchan provides a bounded channel that drops the oldest element
// instead of blocking the producer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers (the BLE delivery goroutine) never block: when the buffer is full
// the oldest element is discarded and counted as dropped. Consumers read with
// Receive, TryReceive or by ranging over C.
//
//	rc := ringchan.New[midi.Event](3)
//	for _, ev := range events {
//	    rc.Send(ev) // drops oldest if full
//	}
//	rc.Close()
//	for ev := range rc.C() {
//	    fmt.Println(ev)
//	}
type RingChannel[T any] struct {
	ch chan T

	sendMu sync.Mutex // makes drop-then-send atomic among producers
	closed bool

	written     atomic.Int64
	dropped     atomic.Int64
	received    atomic.Int64
	afterClosed atomic.Int64
}

// Metrics is a snapshot of RingChannel counters
type Metrics struct {
	Written     int64 // accepted by Send/TrySend
	Dropped     int64 // discarded to make room
	Received    int64 // taken by Receive/TryReceive; reads via C are not counted
	AfterClosed int64 // sends rejected after Close
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// Returns true if an element was dropped. Sending after Close is a counted no-op.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	if rc.closed {
		rc.afterClosed.Add(1)
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}

		// A consumer may drain the buffer between the two selects
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room. Returns false if the buffer is full or closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	if rc.closed {
		rc.afterClosed.Add(1)
		return false
	}
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.received.Add(1)
	}
	return
}

// TryReceive returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.received.Add(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel. Buffered values remain readable. Idempotent.
func (rc *RingChannel[T]) Close() {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// GetMetrics returns a snapshot of the counters
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     rc.written.Load(),
		Dropped:     rc.dropped.Load(),
		Received:    rc.received.Load(),
		AfterClosed: rc.afterClosed.Load(),
	}
}
