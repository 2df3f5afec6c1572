package spooler

import (
	"time"

	"gorm.io/gorm"
)

// Journal records the outcome of every transmission attempt.
type Journal interface {
	RecordAttempt(a SubmissionAttempt) error
}

// SQLJournal appends attempts to the submission_attempts table.
type SQLJournal struct {
	db *gorm.DB
}

func NewSQLJournal(db *gorm.DB) *SQLJournal {
	return &SQLJournal{db: db}
}

func (j *SQLJournal) RecordAttempt(a SubmissionAttempt) error {
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	return j.db.Create(&a).Error
}

// Recent returns the latest attempts, newest first. Zero limit means 50.
func (j *SQLJournal) Recent(limit int) ([]SubmissionAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []SubmissionAttempt
	err := j.db.Order("attempted_at desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Attempts returns every attempt for one record, oldest first.
func (j *SQLJournal) Attempts(recordID string) ([]SubmissionAttempt, error) {
	var out []SubmissionAttempt
	err := j.db.Where("record_id = ?", recordID).Order("id asc").Find(&out).Error
	return out, err
}
