package store

import (
	"time"

	"github.com/sdko-org/trackerspotter/internal/models"
)

// announceRecord is the table row. Timestamps are kept in UTC so that text
// backed drivers order them correctly.
type announceRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"column:recorded_at;index:idx_announces_recorded_at,sort:desc;not null"`
	InfoHash    string    `gorm:"type:text;not null"`
	InfoHashHex string    `gorm:"type:text;not null;index:idx_announces_info_hash"`
	PeerID      string    `gorm:"type:text;not null"`
	ClientIP    string    `gorm:"type:varchar(64);not null"`
	ClientPort  int       `gorm:"not null;default:0"`
	Uploaded    int64     `gorm:"not null;default:0"`
	Downloaded  int64     `gorm:"not null;default:0"`
	Left        int64     `gorm:"column:left_bytes;not null;default:0"`
	Event       string    `gorm:"type:varchar(16);not null;index:idx_announces_event"`
	UserAgent   string    `gorm:"type:text"`
	NumWant     int
	Compact     int
	Key         string `gorm:"column:peer_key;type:text"`
	RawQuery    string `gorm:"type:text"`
	RawHeaders  string `gorm:"type:text"`
}

func (announceRecord) TableName() string {
	return "announces"
}

func toRecord(e *models.AnnounceEvent) announceRecord {
	return announceRecord{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		InfoHash:    e.InfoHashRaw,
		InfoHashHex: e.InfoHashHex,
		PeerID:      e.PeerID,
		ClientIP:    e.ClientIP,
		ClientPort:  e.ClientPort,
		Uploaded:    e.Uploaded,
		Downloaded:  e.Downloaded,
		Left:        e.Left,
		Event:       string(e.Kind),
		UserAgent:   e.UserAgent,
		NumWant:     e.NumWant,
		Compact:     e.Compact,
		Key:         e.Key,
		RawQuery:    e.RawQuery,
		RawHeaders:  e.RawHeaders,
	}
}

func fromRecord(r *announceRecord) models.AnnounceEvent {
	return models.AnnounceEvent{
		ID:          r.ID,
		Timestamp:   r.Timestamp.UTC(),
		InfoHashRaw: r.InfoHash,
		InfoHashHex: r.InfoHashHex,
		PeerID:      r.PeerID,
		ClientIP:    r.ClientIP,
		ClientPort:  r.ClientPort,
		Uploaded:    r.Uploaded,
		Downloaded:  r.Downloaded,
		Left:        r.Left,
		Kind:        models.EventKind(r.Event),
		UserAgent:   r.UserAgent,
		NumWant:     r.NumWant,
		Compact:     r.Compact,
		Key:         r.Key,
		RawQuery:    r.RawQuery,
		RawHeaders:  r.RawHeaders,
	}
}

// Models lists the tables owned by the store, for AutoMigrate.
func Models() []any {
	return []any{&announceRecord{}}
}
