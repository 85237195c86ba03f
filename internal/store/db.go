package store

import (
	"time"

	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Vacuum(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Peer{}, &Neighbor{}, &Message{}); err != nil {
		return nil, err
	}
	return db, nil
}

func Vacuum(db *gorm.DB) error {
	return db.Exec("VACUUM").Error
}

func SaveMessage(db *gorm.DB, msg *Message) error {
	return db.Create(msg).Error
}

// LoadMessages returns the whole journal in conversation order.
func LoadMessages(db *gorm.DB) ([]Message, error) {
	var messages []Message
	result := db.Order("sent_at asc").Order("created_at asc").Find(&messages)
	return messages, result.Error
}

func UpsertPeer(db *gorm.DB, peer Peer) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_seen": peer.LastSeen,
			"via":       peer.Via,
			"frames":    gorm.Expr("frames + 1"),
			"is_active": true,
		}),
	}).Create(&peer).Error
}

func GetPeers(db *gorm.DB) ([]Peer, error) {
	var peers []Peer
	result := db.Order("last_seen desc").Find(&peers)
	return peers, result.Error
}

func GetActivePeers(db *gorm.DB) ([]Peer, error) {
	var peers []Peer
	result := db.Where("is_active = ?", true).Find(&peers)
	return peers, result.Error
}

// MarkInactive flags peers not heard since threshold.
func MarkInactive(db *gorm.DB, threshold time.Time) (int64, error) {
	result := db.Model(&Peer{}).
		Where("is_active = ? AND last_seen < ?", true, threshold).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

func UpsertNeighbor(db *gorm.DB, n Neighbor) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "addr"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_seen": n.LastSeen,
			"rssi":      n.RSSI,
			"snr":       n.SNR,
			"frames":    gorm.Expr("frames + 1"),
		}),
	}).Create(&n).Error
}

// GetNeighbors returns radios in direct range, most recently heard first.
func GetNeighbors(db *gorm.DB) ([]Neighbor, error) {
	var neighbors []Neighbor
	result := db.Order("last_seen desc").Find(&neighbors)
	return neighbors, result.Error
}

// DBJournal writes conversation mutations through to the database.
type DBJournal struct {
	db *gorm.DB
}

func NewDBJournal(db *gorm.DB) *DBJournal {
	return &DBJournal{db: db}
}

func (j *DBJournal) SaveMessage(msg Message) error {
	return SaveMessage(j.db, &msg)
}

func (j *DBJournal) MarkConfirmed(id string) error {
	return j.db.Model(&Message{}).Where("id = ?", id).Update("confirmed", true).Error
}

func (j *DBJournal) SetRetryCount(id string, count int) error {
	return j.db.Model(&Message{}).Where("id = ?", id).Update("retry_count", count).Error
}

// GetPeer returns one peer by id.
func GetPeer(db *gorm.DB, id protocol.DeviceID) (Peer, error) {
	var p Peer
	err := db.First(&p, "id = ?", id).Error
	return p, err
}
