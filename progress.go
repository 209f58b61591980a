package main

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Progress reports pipeline progress to stderr with elapsed time. Tick is
// safe to call from pool workers.
type Progress struct {
	start   time.Time
	verbose bool

	mu    sync.Mutex
	cur   uint64
	max   uint64
	label string
}

// NewProgress creates a progress reporter.
func NewProgress(verbose bool) *Progress {
	return &Progress{start: time.Now(), verbose: verbose}
}

// Log prints a progress message with elapsed time prefix.
func (p *Progress) Log(format string, args ...any) {
	elapsed := time.Since(p.start)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%02d:%02d] %s\n", mins, secs, msg)
}

// Verbose prints only when verbose mode is enabled.
func (p *Progress) Verbose(format string, args ...any) {
	if p.verbose {
		p.Log(format, args...)
	}
}

// Phase begins a counted phase of max steps.
func (p *Progress) Phase(max uint64, label string) {
	p.mu.Lock()
	p.cur, p.max, p.label = 0, max, label
	p.mu.Unlock()
	p.Log("%s (count = %d)", label, max)
}

// Tick records one completed step of the current phase.
func (p *Progress) Tick(hint string) {
	p.mu.Lock()
	p.cur++
	cur, max, label := p.cur, p.max, p.label
	p.mu.Unlock()
	if p.verbose {
		p.Log("%s: %d/%d %s", label, cur, max, hint)
	}
}
