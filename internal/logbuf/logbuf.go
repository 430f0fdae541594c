// Package logbuf holds the most recent output lines captured from the
// supervised backend. The buffer is bounded: once the cap is exceeded the
// oldest lines are truncated from the front. Lines are kept in arrival order
// and never reordered.
package logbuf

import "sync"

const (
	// DefaultCap is how many lines are retained internally.
	DefaultCap = 50
	// DefaultTail is how many lines are exposed to external callers.
	DefaultTail = 20
)

// Buffer is a bounded, append-only line buffer. Safe for concurrent use:
// the supervisor's capture goroutines append while status readers snapshot.
type Buffer struct {
	mu    sync.Mutex
	cap   int
	lines []string
}

// New returns a Buffer retaining at most capacity lines. A non-positive
// capacity falls back to DefaultCap.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Buffer{cap: capacity}
}

// Append adds a line, truncating the oldest entries once the cap is exceeded.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if n := len(b.lines) - b.cap; n > 0 {
		b.lines = append(b.lines[:0], b.lines[n:]...)
	}
	b.mu.Unlock()
}

// Tail returns a copy of the last n lines in arrival order.
func (b *Buffer) Tail(n int) []string {
	if n <= 0 {
		n = DefaultTail
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.lines) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out
}

// Last returns the most recent line, or "" when nothing has been captured.
func (b *Buffer) Last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return ""
	}
	return b.lines[len(b.lines)-1]
}

// Len reports how many lines are currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
