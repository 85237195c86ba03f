package store

import (
	"time"

	"github.com/bit2swaz/loramesh/internal/protocol"
)

// Peer is a node whose frames were heard on the link, directly or relayed.
// Via is the radio address of the neighbour that last carried its traffic.
type Peer struct {
	ID       protocol.DeviceID `gorm:"primaryKey" json:"id"`
	Via      string            `json:"via"`
	LastSeen time.Time         `json:"last_seen"`
	Frames   int               `json:"frames"`
	IsActive bool              `json:"is_active"`
}

// Neighbor is a radio in direct range, keyed by its module address. Signal
// readings belong here: they measure the last hop only.
type Neighbor struct {
	Addr     string    `gorm:"primaryKey" json:"addr"`
	LastSeen time.Time `json:"last_seen"`
	RSSI     int       `json:"rssi"`
	SNR      int       `json:"snr"`
	Frames   int       `json:"frames"`
}

// Message is one entry of a conversation. Peer is the conversation key: the
// counterpart of the local node. Payload holds the raw bytes from the wire.
type Message struct {
	ID         string            `gorm:"primaryKey" json:"id"`
	Peer       protocol.DeviceID `gorm:"index" json:"peer"`
	Sender     protocol.DeviceID `json:"sender"`
	Recipient  protocol.DeviceID `json:"recipient"`
	Payload    string            `json:"payload"`
	SentAt     int64             `gorm:"index" json:"sent_at"`
	Confirmed  bool              `json:"confirmed"`
	RetryCount int               `json:"retry_count"`
	Outgoing   bool              `json:"outgoing"`
	CreatedAt  time.Time         `json:"created_at"`
}
