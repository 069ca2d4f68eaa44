// Package progress provides the shared status channel between a pipeline
// run and its observers: an append-only text log plus a running flag.
//
// There is one writer (the coordinator and the stages it invokes) and any
// number of pollers. Every method takes the same mutex and holds it only
// for a string append or copy, so pollers never wait on a running stage.
package progress

import (
	"io"
	"strings"
	"sync"
)

// Channel is the progress state of one pipeline run. The zero value is
// ready to use.
type Channel struct {
	mu      sync.Mutex
	buf     strings.Builder
	running bool
}

// New returns an empty, not-running Channel.
func New() *Channel {
	return &Channel{}
}

// Write appends line to the log, terminating it with a newline.
func (c *Channel) Write(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		c.buf.WriteByte('\n')
	}
}

// Snapshot returns a copy of the log text accumulated so far.
func (c *Channel) Snapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Clone(c.buf.String())
}

// SetRunning sets the running flag.
func (c *Channel) SetRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

// IsRunning reports whether a run is in progress.
func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reset empties the log and clears the running flag.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	c.running = false
}

// Writer returns an io.Writer that appends raw bytes to the log verbatim,
// for teeing external tool output.
func (c *Channel) Writer() io.Writer {
	return rawWriter{c}
}

type rawWriter struct{ c *Channel }

func (w rawWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.buf.Write(p)
	return len(p), nil
}

// Tail tracks how much of a Channel an observer has already shown and
// returns only the new text on each poll.
type Tail struct {
	c      *Channel
	offset int
}

// NewTail starts following c from its current beginning.
func NewTail(c *Channel) *Tail {
	return &Tail{c: c}
}

// Next returns text appended since the previous call. If the channel was
// reset in between, the whole current log is returned.
func (t *Tail) Next() string {
	s := t.c.Snapshot()
	if len(s) < t.offset {
		t.offset = 0
	}
	out := s[t.offset:]
	t.offset = len(s)
	return out
}
