package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a countdown line while a timed operation runs.
//
// Usage:
//
//	p := NewCountdownProgressPrinter(w, "Scanning", d)
//	p.Start()
//	defer p.Stop()
//
// Stop must be called to end the internal goroutine. It is safe to call more
// than once.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewCountdownProgressPrinter(w io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins drawing. Nothing is drawn when the writer is not a terminal.
func (p *ProgressPrinter) Start() {
	if !isTerminal(p.w) {
		close(p.done)
		return
	}
	start := time.Now()
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			remaining := p.duration - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
			// Round to the nearest second
			fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, int(remaining.Seconds()+0.5))

			select {
			case <-p.stop:
				fmt.Fprint(p.w, clearLineSequence)
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the progress line and waits for the drawing goroutine.
func (p *ProgressPrinter) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}
