package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrNoLink    = errors.New("transport: no link attached")
	ErrLinkFault = errors.New("transport: link operation panicked")
)

// Link is the duplex byte channel to the transceiver. Reads are expected to
// be timeout bounded: a read that times out returns 0, nil.
type Link interface {
	io.ReadWriteCloser
}

// Manager owns the single link to the module. Every access holds the same
// mutex for one complete operation, so a write never interleaves with a
// read-until-terminator.
type Manager struct {
	mu   sync.Mutex
	link Link
}

// NewManager wraps l. A nil link is allowed and means the device is absent.
func NewManager(l Link) *Manager {
	return &Manager{link: l}
}

// Attach swaps in a new link, closing the previous one.
func (m *Manager) Attach(l Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link != nil && m.link != l {
		m.link.Close()
	}
	m.link = l
}

func (m *Manager) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link != nil
}

// Exchange runs fn with exclusive access to the link. A panic inside fn is
// recovered and reported as ErrLinkFault; the lock is always released.
func (m *Manager) Exchange(fn func(Link) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return ErrNoLink
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLinkFault, r)
		}
	}()
	return fn(m.link)
}

// Write sends one complete command line.
func (m *Manager) Write(line []byte) error {
	return m.Exchange(func(l Link) error {
		return WriteLine(l, line)
	})
}

// Close closes and detaches the link.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return nil
	}
	err := m.link.Close()
	m.link = nil
	return err
}
