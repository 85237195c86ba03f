package engine

import "github.com/bit2swaz/loramesh/internal/protocol"

type ackKey struct {
	peer protocol.DeviceID
	ts   int64
}

// tracker holds local sends still waiting for a Confirm, keyed by peer and
// timestamp so two peers sending in the same second never cross-confirm.
// It is guarded by the engine mutex.
type tracker struct {
	pending map[ackKey]struct{}
}

func newTracker() *tracker {
	return &tracker{pending: make(map[ackKey]struct{})}
}

func (t *tracker) add(peer protocol.DeviceID, ts int64) {
	t.pending[ackKey{peer, ts}] = struct{}{}
}

func (t *tracker) has(peer protocol.DeviceID, ts int64) bool {
	_, ok := t.pending[ackKey{peer, ts}]
	return ok
}

// take removes and reports a pending send.
func (t *tracker) take(peer protocol.DeviceID, ts int64) bool {
	k := ackKey{peer, ts}
	if _, ok := t.pending[k]; !ok {
		return false
	}
	delete(t.pending, k)
	return true
}

func (t *tracker) len() int {
	return len(t.pending)
}
