package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bit2swaz/loramesh/internal/metrics"
	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"github.com/bit2swaz/loramesh/internal/transport"
)

// MaxPayload is the largest payload the module accepts in one AT+SEND body.
const MaxPayload = 240 - protocol.DeliverHeaderLen

var (
	ErrNoIdentity       = errors.New("engine: local device id unresolved")
	ErrEmptyMessage     = errors.New("engine: empty message")
	ErrPayloadTooLarge  = errors.New("engine: payload too large")
	ErrNotFound         = errors.New("engine: message not found")
	ErrAlreadyConfirmed = errors.New("engine: message already confirmed")
)

// Observer is told about every decoded frame from another node. Frame.Via
// names the neighbour that transmitted it; Frame.Sender may be further away.
type Observer interface {
	Observe(f protocol.Frame)
}

type Options struct {
	// RelayWindow suppresses re-forwarding and re-appending the same body
	// within the window. Zero disables suppression.
	RelayWindow time.Duration
	// RelayCacheSize bounds the number of remembered bodies.
	RelayCacheSize int
	PollInterval   time.Duration
	// DetachAfter drops the link after that many consecutive read failures
	// so it can be reopened. Zero keeps a failing link attached.
	DetachAfter int
	Observer    Observer
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		RelayWindow:    60 * time.Second,
		RelayCacheSize: 512,
		PollInterval:   transport.DefaultPollInterval,
	}
}

// Engine is the node's relay protocol engine. One mutex covers store
// mutation and the matching link write, for both the link reader and
// foreground sends.
type Engine struct {
	mu      sync.Mutex
	link    *transport.Manager
	conv    *store.Conversations
	localID protocol.DeviceID
	tracker *tracker
	seen    *seenCache
	opts    Options
	now     func() time.Time

	// MsgUpdates receives every message appended to the store. Sends are
	// non-blocking; a full channel drops the notification.
	MsgUpdates chan store.Message
	// UplinkChan, when set, receives messages delivered to this node.
	UplinkChan chan store.Message
}

// New builds an engine. localID may be empty when the identity handshake
// failed; the node then only relays.
func New(link *transport.Manager, conv *store.Conversations, localID protocol.DeviceID, opts Options) (*Engine, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seen, err := newSeenCache(opts.RelayCacheSize, opts.RelayWindow, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay cache: %w", err)
	}
	if localID != "" && !localID.Valid() {
		slog.Warn("Ignoring malformed local device id", "id", localID)
		localID = ""
	}
	return &Engine{
		link:       link,
		conv:       conv,
		localID:    localID,
		tracker:    newTracker(),
		seen:       seen,
		opts:       opts,
		now:        now,
		MsgUpdates: make(chan store.Message, 100),
	}, nil
}

// LocalID returns the resolved device id, or "" in relay-only mode.
func (e *Engine) LocalID() protocol.DeviceID {
	return e.localID
}

// Start re-arms acknowledgment tracking for journaled sends and launches the
// link reader. The reader stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if e.localID.Valid() {
		for _, m := range e.conv.Unconfirmed() {
			if m.Sender == e.localID {
				e.tracker.add(m.Peer, m.SentAt)
			}
		}
	} else {
		slog.Warn("No local device id, running relay-only")
	}

	reader := transport.NewReader(e.link, e.HandleLine, e.opts.PollInterval)
	reader.DetachAfter = e.opts.DetachAfter
	go reader.Run(ctx)
	slog.Info("Engine started", "local_id", e.localID, "pending", e.tracker.len())
	return nil
}

// Send transmits text to recipient and records it unconfirmed. The message
// is only stored once the link accepted the line.
func (e *Engine) Send(recipient protocol.DeviceID, text string) (store.Message, error) {
	if !e.localID.Valid() {
		return store.Message{}, ErrNoIdentity
	}
	payload := strings.TrimSpace(text)
	if payload == "" {
		return store.Message{}, ErrEmptyMessage
	}
	if len(payload) > MaxPayload {
		return store.Message{}, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	if !recipient.Valid() {
		return store.Message{}, fmt.Errorf("%w: recipient %q", protocol.ErrMalformedInput, recipient)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.now().Unix()
	// (sender, ts) must stay unique among every local send to this peer, or a
	// late copy of an old confirm would match the new message.
	for e.tracker.has(recipient, ts) || e.conv.Has(recipient, e.localID, ts) {
		ts++
	}

	line, err := protocol.Encode(protocol.NewDeliver(e.localID, recipient, ts, []byte(payload)))
	if err != nil {
		return store.Message{}, err
	}
	if err := e.link.Write(line); err != nil {
		metrics.LinkErrors.WithLabelValues("write").Inc()
		return store.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	slog.Debug("Sent deliver", "line", strings.TrimSpace(string(line)))
	metrics.MessagesSent.Inc()

	msg := e.conv.Append(store.Message{
		Peer:      recipient,
		Sender:    e.localID,
		Recipient: recipient,
		Payload:   payload,
		SentAt:    ts,
		Outgoing:  true,
	})
	e.tracker.add(recipient, ts)
	e.notify(msg)
	return msg, nil
}

// Resend retransmits an unconfirmed local message with its original
// timestamp and increments its retry count. Nothing calls this on its own:
// an unacknowledged message is only resent on request.
func (e *Engine) Resend(peer protocol.DeviceID, ts int64) (store.Message, error) {
	if !e.localID.Valid() {
		return store.Message{}, ErrNoIdentity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.conv.Find(peer, e.localID, ts)
	if !ok {
		return store.Message{}, ErrNotFound
	}
	if m.Confirmed {
		return m, ErrAlreadyConfirmed
	}
	line, err := protocol.Encode(protocol.NewDeliver(e.localID, peer, ts, []byte(m.Payload)))
	if err != nil {
		return store.Message{}, err
	}
	if err := e.link.Write(line); err != nil {
		metrics.LinkErrors.WithLabelValues("write").Inc()
		return store.Message{}, fmt.Errorf("failed to resend message: %w", err)
	}
	metrics.MessagesSent.Inc()
	e.tracker.add(peer, ts)
	updated, ok := e.conv.IncrementRetry(peer, e.localID, ts)
	if !ok {
		slog.Error("Resent message vanished from store", "peer", peer, "ts", ts)
		return store.Message{}, ErrNotFound
	}
	return updated, nil
}

// Snapshot returns a copy of every conversation keyed by peer.
func (e *Engine) Snapshot() map[protocol.DeviceID][]store.Message {
	return e.conv.Snapshot()
}

func (e *Engine) Conversation(peer protocol.DeviceID) []store.Message {
	return e.conv.Conversation(peer)
}

func (e *Engine) Peers() []protocol.DeviceID {
	return e.conv.Peers()
}

func (e *Engine) notify(msg store.Message) {
	select {
	case e.MsgUpdates <- msg:
	default:
	}
}
