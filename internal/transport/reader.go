package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bit2swaz/loramesh/internal/metrics"
)

const (
	DefaultPollInterval = 25 * time.Millisecond
	maxBuffered         = 4096
	readChunk           = 300
)

// FrameHandler receives each inbound frame, starting at the +RCV= marker.
type FrameHandler func(frame []byte)

// Reader polls the link for inbound lines. The link has no readiness
// notification, so it sleeps between attempts.
type Reader struct {
	mgr      *Manager
	handle   FrameHandler
	interval time.Duration

	// DetachAfter closes and detaches the link after that many consecutive
	// failed reads, leaving Redial to reopen the port. Zero keeps the link.
	DetachAfter int

	buf      bytes.Buffer
	chunk    []byte
	lastErr  string
	failures int
}

func NewReader(mgr *Manager, handle FrameHandler, interval time.Duration) *Reader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reader{
		mgr:      mgr,
		handle:   handle,
		interval: interval,
		chunk:    make([]byte, readChunk),
	}
}

// Run polls until ctx is cancelled. Link errors never stop the loop since the
// device may come back.
func (r *Reader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.Poll()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll performs one iteration: read until a terminator or an empty read, then
// dispatch any completed frames. A panic is logged and the iteration skipped.
func (r *Reader) Poll() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Link reader iteration panicked", "panic", rec)
			r.buf.Reset()
		}
	}()

	err := r.mgr.Exchange(r.fill)
	switch {
	case err == nil:
		r.lastErr = ""
		r.failures = 0
	case errors.Is(err, ErrNoLink):
		r.failures = 0
		return
	default:
		metrics.LinkErrors.WithLabelValues("read").Inc()
		if msg := err.Error(); msg != r.lastErr {
			slog.Warn("Link read failed", "error", err)
			r.lastErr = msg
		}
		r.failures++
		if r.DetachAfter > 0 && r.failures >= r.DetachAfter {
			slog.Error("Link lost, detaching", "failures", r.failures, "error", err)
			r.mgr.Close()
			r.buf.Reset()
			r.failures = 0
			r.lastErr = ""
		}
		return
	}

	if !Complete(r.buf.Bytes()) {
		return
	}
	complete := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()

	frames, discarded := SplitFrames(complete)
	if discarded > 0 {
		metrics.LinesRead.WithLabelValues("discarded").Add(float64(discarded))
		slog.Debug("Discarded non-frame lines", "count", discarded)
	}
	for _, f := range frames {
		metrics.LinesRead.WithLabelValues("frame").Inc()
		r.handle(f)
	}
}

// fill runs with the link lock held.
func (r *Reader) fill(l Link) error {
	for {
		n, err := l.Read(r.chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		r.buf.Write(r.chunk[:n])
		if Complete(r.buf.Bytes()) {
			return nil
		}
		if r.buf.Len() > maxBuffered {
			slog.Warn("Discarding unterminated input", "bytes", r.buf.Len())
			r.buf.Reset()
			return nil
		}
		time.Sleep(r.interval)
	}
}
