// Package fakelink provides an in-memory transceiver link for tests.
package fakelink

import (
	"sync"
)

// Link queues inbound chunks and records every write. A read with nothing
// queued returns 0, nil like a serial read that timed out.
type Link struct {
	mu      sync.Mutex
	chunks  [][]byte
	writes  [][]byte
	readErr error
	closed  bool

	// OnWrite, when set, is called with each written line while the link
	// lock is held. Tests use it to script module replies.
	OnWrite func(l *Link, p []byte)
}

func New() *Link {
	return &Link{}
}

// Feed queues one chunk to be returned by a future Read.
func (l *Link) Feed(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chunks = append(l.chunks, []byte(s))
}

// FailReads makes every Read return err until cleared with nil.
func (l *Link) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

func (l *Link) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return 0, l.readErr
	}
	if len(l.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, l.chunks[0])
	if n < len(l.chunks[0]) {
		l.chunks[0] = l.chunks[0][n:]
	} else {
		l.chunks = l.chunks[1:]
	}
	return n, nil
}

func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, append([]byte(nil), p...))
	if l.OnWrite != nil {
		l.OnWrite(l, p)
	}
	return len(p), nil
}

// QueueLocked is Feed for use inside OnWrite, where the lock is already held.
func (l *Link) QueueLocked(s string) {
	l.chunks = append(l.chunks, []byte(s))
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Writes returns every line written so far.
func (l *Link) Writes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.writes))
	for i, w := range l.writes {
		out[i] = string(w)
	}
	return out
}

// Reset forgets recorded writes.
func (l *Link) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = nil
}
