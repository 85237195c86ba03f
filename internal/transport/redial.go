package transport

import (
	"context"
	"log/slog"
	"time"
)

// Opener opens a fresh link to the module.
type Opener func() (Link, error)

// Redial reattaches a link whenever mgr has none, trying open once per
// interval until ctx is cancelled.
func Redial(ctx context.Context, mgr *Manager, open Opener, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if mgr.Attached() {
			continue
		}
		l, err := open()
		if err != nil {
			if msg := err.Error(); msg != lastErr {
				slog.Warn("Link reopen failed", "error", err)
				lastErr = msg
			}
			continue
		}
		lastErr = ""
		mgr.Attach(l)
		slog.Info("Link reattached")
	}
}
