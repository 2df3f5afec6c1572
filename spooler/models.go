package spooler

import "time"

// Setting is one key of the preferences table.
type Setting struct {
	Key       string `gorm:"column:name;primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// SubmissionAttempt is one transmission of one record, kept after the record
// itself is gone.
type SubmissionAttempt struct {
	ID            uint   `gorm:"primaryKey"`
	RecordID      string `gorm:"index;size:64"`
	AppIdentifier string `gorm:"index;size:64"`
	// Fingerprint groups attempts of the same crash (see TraceFingerprint).
	Fingerprint string    `gorm:"index;size:32"`
	Sent        bool      `gorm:"index"`
	SendError   string    `gorm:"type:text"`
	AttemptedAt time.Time `gorm:"index"`
}
