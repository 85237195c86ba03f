package store

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/google/uuid"
)

// Journal persists conversation mutations. Failures are logged; the in-memory
// store stays authoritative for the session.
type Journal interface {
	SaveMessage(msg Message) error
	MarkConfirmed(id string) error
	SetRetryCount(id string, count int) error
}

// Conversations is the per-peer message log shared by the link reader and the
// clients. All access goes through its methods; callers only ever see copies,
// so confirmed can only move from false to true.
type Conversations struct {
	mu      sync.Mutex
	byPeer  map[protocol.DeviceID][]Message
	journal Journal
}

// NewConversations creates an empty store. j may be nil.
func NewConversations(j Journal) *Conversations {
	return &Conversations{
		byPeer:  make(map[protocol.DeviceID][]Message),
		journal: j,
	}
}

// Load seeds the store from previously journaled messages without writing
// them back.
func (c *Conversations) Load(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.byPeer[m.Peer] = append(c.byPeer[m.Peer], m)
	}
}

// Append adds msg to the conversation with msg.Peer and returns the stored
// copy, with an ID assigned if it had none.
func (c *Conversations) Append(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	c.mu.Lock()
	c.byPeer[msg.Peer] = append(c.byPeer[msg.Peer], msg)
	c.mu.Unlock()

	if c.journal != nil {
		if err := c.journal.SaveMessage(msg); err != nil {
			slog.Error("Failed to journal message", "id", msg.ID, "error", err)
		}
	}
	return msg
}

// MarkConfirmed flips the unconfirmed message sent by sender at ts in the
// conversation with peer. It reports whether a message changed.
func (c *Conversations) MarkConfirmed(peer, sender protocol.DeviceID, ts int64) bool {
	c.mu.Lock()
	var id string
	msgs := c.byPeer[peer]
	for i := range msgs {
		if msgs[i].SentAt == ts && msgs[i].Sender == sender && !msgs[i].Confirmed {
			msgs[i].Confirmed = true
			id = msgs[i].ID
			break
		}
	}
	c.mu.Unlock()

	if id == "" {
		return false
	}
	if c.journal != nil {
		if err := c.journal.MarkConfirmed(id); err != nil {
			slog.Error("Failed to journal confirmation", "id", id, "error", err)
		}
	}
	return true
}

// IncrementRetry bumps the retry count of the message sent by sender at ts
// and returns the updated copy.
func (c *Conversations) IncrementRetry(peer, sender protocol.DeviceID, ts int64) (Message, bool) {
	c.mu.Lock()
	var updated Message
	found := false
	msgs := c.byPeer[peer]
	for i := range msgs {
		if msgs[i].SentAt == ts && msgs[i].Sender == sender {
			msgs[i].RetryCount++
			updated = msgs[i]
			found = true
			break
		}
	}
	c.mu.Unlock()

	if found && c.journal != nil {
		if err := c.journal.SetRetryCount(updated.ID, updated.RetryCount); err != nil {
			slog.Error("Failed to journal retry", "id", updated.ID, "error", err)
		}
	}
	return updated, found
}

// Find returns the message sent by sender at ts in the conversation with peer.
func (c *Conversations) Find(peer, sender protocol.DeviceID, ts int64) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.byPeer[peer] {
		if m.SentAt == ts && m.Sender == sender {
			return m, true
		}
	}
	return Message{}, false
}

// Has reports whether sender already has a message at ts with peer.
func (c *Conversations) Has(peer, sender protocol.DeviceID, ts int64) bool {
	_, ok := c.Find(peer, sender, ts)
	return ok
}

// Conversation returns a copy of the log for one peer.
func (c *Conversations) Conversation(peer protocol.DeviceID) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.byPeer[peer]...)
}

// Snapshot returns a copy of every conversation keyed by peer.
func (c *Conversations) Snapshot() map[protocol.DeviceID][]Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[protocol.DeviceID][]Message, len(c.byPeer))
	for peer, msgs := range c.byPeer {
		out[peer] = append([]Message(nil), msgs...)
	}
	return out
}

// Peers lists conversation keys, most recently active first.
func (c *Conversations) Peers() []protocol.DeviceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]protocol.DeviceID, 0, len(c.byPeer))
	last := make(map[protocol.DeviceID]int64, len(c.byPeer))
	for peer, msgs := range c.byPeer {
		peers = append(peers, peer)
		if n := len(msgs); n > 0 {
			last[peer] = msgs[n-1].SentAt
		}
	}
	sort.Slice(peers, func(i, j int) bool {
		if last[peers[i]] != last[peers[j]] {
			return last[peers[i]] > last[peers[j]]
		}
		return peers[i] < peers[j]
	})
	return peers
}

// Unconfirmed returns outgoing messages still waiting for a Confirm.
func (c *Conversations) Unconfirmed() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, msgs := range c.byPeer {
		for _, m := range msgs {
			if m.Outgoing && !m.Confirmed {
				out = append(out, m)
			}
		}
	}
	return out
}
