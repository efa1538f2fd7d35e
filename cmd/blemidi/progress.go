package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blemidi/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a one-line status with elapsed or remaining seconds
// while a blocking step (scan, connect, subscribe) runs.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to aa:bb", 0)
//	p.Start()
//	defer p.Stop()
//
// A zero countdown counts up. A ProgressPrinter is single-use.
type ProgressPrinter struct {
	w         io.Writer
	prefix    string
	countdown time.Duration
	phase     atomic.Value // string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      <-chan struct{}
}

func NewProgressPrinter(w io.Writer, prefix string, countdown time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{w: w, prefix: prefix, countdown: countdown}
	p.phase.Store("")
	return p
}

// SetPhase changes the label shown next to the timer
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Start begins the display loop. Only the first call has an effect.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		start := time.Now()
		p.print(0)
		p.done = groutine.Go(ctx, "progress-printer", func(ctx context.Context) {
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.print(p.seconds(time.Since(start)))
				}
			}
		})
	})
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countdown <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	switch {
	case phase != "" && seconds > 0:
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	case phase != "":
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	case seconds > 0:
		fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, seconds)
	default:
		fmt.Fprintf(p.w, "\r%s...   ", p.prefix)
	}
}

// Stop ends the display loop and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		fmt.Fprint(p.w, clearLineSequence)
	})
}
