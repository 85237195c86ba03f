package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"gorm.io/gorm"
)

// PeerInfo is one sighting of a node on the link. Via is the neighbour
// that transmitted the frame; the signal readings belong to it.
type PeerInfo struct {
	ID        protocol.DeviceID
	Via       string
	RSSI      int
	SNR       int
	HasSignal bool
	At        time.Time
}

// Presence records every node heard on the link. Sightings are queued and
// written by Run so the link reader never waits on the database.
type Presence struct {
	db      *gorm.DB
	updates chan PeerInfo
	now     func() time.Time

	// PeerUpdates, when set, receives each recorded sighting.
	PeerUpdates chan PeerInfo
}

func NewPresence(db *gorm.DB) *Presence {
	return &Presence{
		db:      db,
		updates: make(chan PeerInfo, 64),
		now:     time.Now,
	}
}

// Observe queues a sighting of f's sender. It drops the sighting when the
// queue is full.
func (p *Presence) Observe(f protocol.Frame) {
	info := PeerInfo{
		ID:        f.Sender,
		Via:       f.Via,
		RSSI:      f.RSSI,
		SNR:       f.SNR,
		HasSignal: f.HasSignal,
		At:        p.now(),
	}
	select {
	case p.updates <- info:
	default:
		slog.Warn("Dropping peer sighting, queue full", "peer", f.Sender)
	}
}

// Run writes queued sightings until ctx is cancelled.
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-p.updates:
			p.record(info)
		}
	}
}

func (p *Presence) record(info PeerInfo) {
	peer := store.Peer{
		ID:       info.ID,
		Via:      info.Via,
		LastSeen: info.At,
		Frames:   1,
		IsActive: true,
	}
	if err := store.UpsertPeer(p.db, peer); err != nil {
		slog.Error("Failed to upsert peer", "peer", info.ID, "error", err)
		return
	}
	if info.Via != "" && info.HasSignal {
		n := store.Neighbor{Addr: info.Via, LastSeen: info.At, RSSI: info.RSSI, SNR: info.SNR, Frames: 1}
		if err := store.UpsertNeighbor(p.db, n); err != nil {
			slog.Error("Failed to upsert neighbor", "addr", info.Via, "error", err)
		}
	}
	if p.PeerUpdates != nil {
		select {
		case p.PeerUpdates <- info:
		default:
		}
	}
}

// StartReaper periodically marks peers not heard within ttl as inactive.
func StartReaper(ctx context.Context, db *gorm.DB, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.MarkInactive(db, time.Now().Add(-ttl))
			if err != nil {
				slog.Error("Failed to reap peers", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Peers went quiet", "count", n)
			}
		}
	}
}
