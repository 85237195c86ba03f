package core

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/transport"
)

var ErrIdentityUnresolved = errors.New("core: device id unresolved")

// Handshake timing for the AT+UID? query.
type Handshake struct {
	// BootDelay lets the module finish booting after the port opens.
	BootDelay time.Duration
	// ResponseDelay is how long the module needs to answer.
	ResponseDelay time.Duration
}

func DefaultHandshake() Handshake {
	return Handshake{
		BootDelay:     2 * time.Second,
		ResponseDelay: 100 * time.Millisecond,
	}
}

// ResolveIdentity asks the module for its hardware id. It holds the link for
// the whole exchange and performs a single read. Callers treat an error as
// relay-only mode, never as fatal.
func ResolveIdentity(mgr *transport.Manager, hs Handshake) (protocol.DeviceID, error) {
	var reply []byte
	err := mgr.Exchange(func(l transport.Link) error {
		time.Sleep(hs.BootDelay)
		if err := transport.WriteLine(l, []byte(protocol.UIDQuery)); err != nil {
			return err
		}
		time.Sleep(hs.ResponseDelay)
		buf := make([]byte, 240)
		n, err := l.Read(buf)
		if err != nil {
			return fmt.Errorf("failed to read identity reply: %w", err)
		}
		reply = buf[:n]
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIdentityUnresolved, err)
	}
	return ParseIdentity(reply)
}

// ParseIdentity extracts the id from a `+UID=<id>` reply.
func ParseIdentity(reply []byte) (protocol.DeviceID, error) {
	i := bytes.Index(reply, []byte(protocol.UIDMarker))
	if i < 0 {
		return "", fmt.Errorf("%w: no %s in reply %q", ErrIdentityUnresolved, protocol.UIDMarker, reply)
	}
	value := reply[i+len(protocol.UIDMarker):]
	if j := bytes.IndexAny(value, "\r\n"); j >= 0 {
		value = value[:j]
	}
	id := protocol.DeviceID(bytes.TrimSpace(value))
	if !id.Valid() {
		return "", fmt.Errorf("%w: id %q is %d chars, want %d", ErrIdentityUnresolved, id, len(id), protocol.IDLen)
	}
	return id, nil
}
