// Package store is the append-only event log behind the tracker endpoints.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// Filter narrows Query results. Zero values mean "no constraint".
type Filter struct {
	Kind        *models.EventKind
	InfoHashHex string
	Since       time.Time
	Until       time.Time
	Search      string
	Limit       int
}

type TorrentSummary struct {
	InfoHashHex string `json:"info_hash_hex"`
	Count       int64  `json:"count"`
}

type eventCount struct {
	Event string
	Count int64
}

type Stats struct {
	TotalEvents    int64      `json:"total_events"`
	UniqueTorrents int64      `json:"unique_torrents"`
	EarliestEvent  *time.Time `json:"earliest_event"`
	LatestEvent    *time.Time `json:"latest_event"`
}

// Store serializes writes behind a single mutex so that SQLite sees one writer
// at a time; reads go straight to the pool.
type Store struct {
	db      *gorm.DB
	log     *logrus.Entry
	writeMu sync.Mutex
	now     func() time.Time
}

func New(logger *logrus.Logger, db *gorm.DB) *Store {
	return &Store{
		db:  db,
		log: logger.WithField("component", "event_store"),
		now: time.Now,
	}
}

// Insert appends e and sets e.ID to the assigned identifier.
func (s *Store) Insert(ctx context.Context, e *models.AnnounceEvent) (uint64, error) {
	rec := toRecord(e)
	rec.ID = 0

	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Create(&rec).Error
	s.writeMu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("insert announce: %w", err)
	}
	e.ID = rec.ID
	return rec.ID, nil
}

// Query returns matching events newest first; equal timestamps keep insertion order.
func (s *Store) Query(ctx context.Context, f Filter) ([]models.AnnounceEvent, error) {
	q := s.db.WithContext(ctx).Model(&announceRecord{})

	if f.Kind != nil {
		q = q.Where("event = ?", string(*f.Kind))
	}
	if f.InfoHashHex != "" {
		q = q.Where("info_hash_hex = ?", strings.ToLower(f.InfoHashHex))
	}
	if !f.Since.IsZero() {
		q = q.Where("recorded_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("recorded_at <= ?", f.Until.UTC())
	}
	if f.Search != "" {
		// sqlite LIKE ignores ASCII case and postgres does not; lower both sides
		pattern := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		q = q.Where(`(LOWER(info_hash_hex) LIKE ? ESCAPE '\' OR LOWER(client_ip) LIKE ? ESCAPE '\' OR LOWER(user_agent) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern)
	}

	var records []announceRecord
	err := q.Order("recorded_at DESC").Order("id ASC").Limit(clampLimit(f.Limit)).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query announces: %w", err)
	}

	events := make([]models.AnnounceEvent, 0, len(records))
	for i := range records {
		events = append(events, fromRecord(&records[i]))
	}
	return events, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]models.AnnounceEvent, error) {
	return s.Query(ctx, Filter{Limit: limit})
}

// UniqueTorrents groups events by hash, most recently active first.
func (s *Store) UniqueTorrents(ctx context.Context) ([]TorrentSummary, error) {
	var out []TorrentSummary
	err := s.db.WithContext(ctx).Model(&announceRecord{}).
		Select("info_hash_hex, COUNT(*) AS count").
		Group("info_hash_hex").
		Order("MAX(recorded_at) DESC").
		Order("MAX(id) DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("unique torrents: %w", err)
	}
	return out, nil
}

// EventCounts tallies events by kind. The empty kind is reported as "update".
func (s *Store) EventCounts(ctx context.Context) (map[string]int64, error) {
	var rows []eventCount
	err := s.db.WithContext(ctx).Model(&announceRecord{}).
		Select("event, COUNT(*) AS count").
		Group("event").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[models.EventKind(r.Event).Label()] += r.Count
	}
	return counts, nil
}

// DeleteOlderThan removes events recorded more than age ago.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return s.DeleteBefore(ctx, s.now().Add(-age))
}

// DeleteBefore removes events recorded strictly before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("recorded_at < ?", cutoff.UTC()).Delete(&announceRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete announces: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExpiredBefore returns up to limit events recorded strictly before cutoff,
// oldest first.
func (s *Store) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AnnounceEvent, error) {
	var records []announceRecord
	err := s.db.WithContext(ctx).
		Where("recorded_at < ?", cutoff.UTC()).
		Order("recorded_at ASC").Order("id ASC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("expired announces: %w", err)
	}

	events := make([]models.AnnounceEvent, 0, len(records))
	for i := range records {
		events = append(events, fromRecord(&records[i]))
	}
	return events, nil
}

func (s *Store) DeleteIDs(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&announceRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete announces by id: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&announceRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear announces: %w", res.Error)
	}
	s.log.WithField("deleted", res.RowsAffected).Info("Cleared all announces")
	return res.RowsAffected, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&announceRecord{}).Count(&st.TotalEvents).Error; err != nil {
		return st, fmt.Errorf("count announces: %w", err)
	}
	if st.TotalEvents == 0 {
		return st, nil
	}
	if err := db.Model(&announceRecord{}).Distinct("info_hash_hex").Count(&st.UniqueTorrents).Error; err != nil {
		return st, fmt.Errorf("count torrents: %w", err)
	}

	var earliest, latest announceRecord
	if err := db.Order("recorded_at ASC").Order("id ASC").Take(&earliest).Error; err != nil {
		return st, fmt.Errorf("earliest announce: %w", err)
	}
	if err := db.Order("recorded_at DESC").Order("id DESC").Take(&latest).Error; err != nil {
		return st, fmt.Errorf("latest announce: %w", err)
	}
	e, l := earliest.Timestamp.UTC(), latest.Timestamp.UTC()
	st.EarliestEvent, st.LatestEvent = &e, &l
	return st, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
