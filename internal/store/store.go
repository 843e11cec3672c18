// Package store persists the call journal for the client.
package store

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/peerwave/peerwave/internal/rtc"
)

// CallRecord is one finished call attempt, successful or not.
type CallRecord struct {
	ID         uint   `gorm:"primaryKey"`
	PeerID     string `gorm:"index"`
	Role       string
	Outcome    string
	StartedAt  int64
	EndedAt    int64
	DegradedMs int64
}

type CallStore struct {
	db *gorm.DB
}

// Open opens or creates the journal database at path. Pass ":memory:" for
// an ephemeral journal.
func Open(path string) (*CallStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CallRecord{}); err != nil {
		return nil, err
	}
	return &CallStore{db: db}, nil
}

func (s *CallStore) RecordCall(peerID, role, outcome string, startedAt, endedAt time.Time, degraded time.Duration) error {
	rec := CallRecord{
		PeerID:     peerID,
		Role:       role,
		Outcome:    outcome,
		StartedAt:  startedAt.Unix(),
		EndedAt:    endedAt.Unix(),
		DegradedMs: degraded.Milliseconds(),
	}
	return s.db.Create(&rec).Error
}

// Recent returns the latest calls, newest first.
func (s *CallStore) Recent(limit int) ([]CallRecord, error) {
	var recs []CallRecord
	err := s.db.Order("id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// CallsWith returns every journaled call with one peer, newest first.
func (s *CallStore) CallsWith(peerID string) ([]CallRecord, error) {
	var recs []CallRecord
	err := s.db.Where("peer_id = ?", peerID).Order("id desc").Find(&recs).Error
	return recs, err
}

var _ rtc.CallJournal = (*CallStore)(nil)
