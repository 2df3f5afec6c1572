package spooler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settings keys.
const (
	KeyConfirmedRecords = "ConfirmedFilenames"
	KeyAlwaysSend       = "always_send_crash_reports"
)

const confirmedDelimiter = "|"

// Preferences is the host's small persistent key-value store. A missing key
// reads as the zero value. Writes are durable when they return.
type Preferences interface {
	Bool(key string) (bool, error)
	SetBool(key string, value bool) error
	String(key string) (string, error)
	SetString(key string, value string) error
}

// SQLPreferences keeps preferences in the settings table.
type SQLPreferences struct {
	db *gorm.DB
}

// NewSQLPreferences uses a database opened with OpenDB.
func NewSQLPreferences(db *gorm.DB) *SQLPreferences {
	return &SQLPreferences{db: db}
}

func (p *SQLPreferences) String(key string) (string, error) {
	var s Setting
	err := p.db.Where("name = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func (p *SQLPreferences) SetString(key string, value string) error {
	s := Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&s).Error
}

func (p *SQLPreferences) Bool(key string) (bool, error) {
	v, err := p.String(key)
	if err != nil || v == "" {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (p *SQLPreferences) SetBool(key string, value bool) error {
	return p.SetString(key, strconv.FormatBool(value))
}

// readConfirmed returns the confirmation set. Any failure, including a nil
// store, is a CONFIRMATION_READ_FAILURE.
func readConfirmed(p Preferences) (map[string]struct{}, error) {
	if p == nil {
		return nil, newConfirmationReadFailure(errors.New("no preferences store"))
	}
	raw, err := p.String(KeyConfirmedRecords)
	if err != nil {
		return nil, newConfirmationReadFailure(err)
	}
	set := make(map[string]struct{})
	for _, id := range strings.Split(raw, confirmedDelimiter) {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

func writeConfirmed(p Preferences, ids []string) error {
	return p.SetString(KeyConfirmedRecords, strings.Join(ids, confirmedDelimiter))
}
