package engine

import (
	"log/slog"

	"github.com/bit2swaz/loramesh/internal/metrics"
	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
)

// HandleLine decodes one inbound +RCV= line and dispatches it. Malformed
// frames are dropped; acknowledgment gives reliability above this layer.
func (e *Engine) HandleLine(raw []byte) {
	f, err := protocol.Decode(raw)
	if err != nil {
		metrics.FramesMalformed.Inc()
		slog.Debug("Dropping malformed frame", "error", err)
		return
	}
	e.Dispatch(f)
}

// Dispatch decides whether f is delivered here, acknowledges a local send,
// or is relayed.
func (e *Engine) Dispatch(f protocol.Frame) {
	metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()
	if e.opts.Observer != nil && f.Sender.Valid() && f.Sender != e.localID {
		e.opts.Observer.Observe(f)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	local := e.localID.Valid() && f.Recipient == e.localID
	switch {
	case local && f.Kind == protocol.KindDeliver:
		e.handleDeliver(f)
	case local && f.Kind == protocol.KindConfirm:
		e.handleConfirm(f)
	default:
		e.handleRelay(f)
	}
}

func (e *Engine) handleDeliver(f protocol.Frame) {
	if e.seen.check("rx:" + string(f.Body)) {
		slog.Info("Duplicate delivery, confirming again", "from", f.Sender, "ts", f.Timestamp)
	} else {
		msg := e.conv.Append(store.Message{
			Peer:      f.Sender,
			Sender:    f.Sender,
			Recipient: f.Recipient,
			Payload:   string(f.Payload),
			SentAt:    f.Timestamp,
			Confirmed: true,
		})
		metrics.MessagesDelivered.Inc()
		slog.Info("Message received", "from", f.Sender, "ts", f.Timestamp, "bytes", len(f.Payload))
		e.notify(msg)
		if e.UplinkChan != nil {
			select {
			case e.UplinkChan <- msg:
			default:
			}
		}
	}

	line, err := protocol.Encode(protocol.NewConfirm(e.localID, f.Sender, f.Timestamp))
	if err != nil {
		slog.Error("Failed to encode confirm", "to", f.Sender, "error", err)
		return
	}
	if err := e.link.Write(line); err != nil {
		metrics.LinkErrors.WithLabelValues("write").Inc()
		slog.Error("Failed to send confirm", "to", f.Sender, "error", err)
	}
}

func (e *Engine) handleConfirm(f protocol.Frame) {
	if !e.tracker.take(f.Sender, f.Timestamp) {
		metrics.AcksMatched.WithLabelValues("unmatched").Inc()
		slog.Debug("Ignoring unmatched confirm", "from", f.Sender, "ts", f.Timestamp)
		return
	}
	if e.conv.MarkConfirmed(f.Sender, e.localID, f.Timestamp) {
		metrics.AcksMatched.WithLabelValues("matched").Inc()
		slog.Info("Message confirmed", "peer", f.Sender, "ts", f.Timestamp)
		if m, ok := e.conv.Find(f.Sender, e.localID, f.Timestamp); ok {
			e.notify(m)
		}
	}
}

// handleRelay forwards traffic between two other nodes. The body goes out
// exactly as it was received.
func (e *Engine) handleRelay(f protocol.Frame) {
	kind := f.Kind.String()
	if e.localID.Valid() && f.Sender == e.localID {
		metrics.FramesRelayed.WithLabelValues(kind, "dropped").Inc()
		return
	}
	if !f.Forwardable() {
		metrics.FramesRelayed.WithLabelValues(kind, "dropped").Inc()
		slog.Debug("Not relaying header-only frame", "kind", kind)
		return
	}
	if e.seen.check("fw:" + string(f.Body)) {
		metrics.FramesRelayed.WithLabelValues(kind, "duplicate").Inc()
		return
	}
	if err := e.link.Write(protocol.EncodeBody(f.Body)); err != nil {
		metrics.LinkErrors.WithLabelValues("write").Inc()
		slog.Error("Failed to relay frame", "kind", kind, "error", err)
		return
	}
	metrics.FramesRelayed.WithLabelValues(kind, "forwarded").Inc()
	slog.Debug("Relayed frame", "kind", kind, "from", f.Sender, "to", f.Recipient)
}
