package spooler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// File suffixes of one record. Only the trace file is mandatory.
const (
	SuffixTrace         = ".stacktrace"
	SuffixUser          = ".user"
	SuffixContact       = ".contact"
	SuffixDescription   = ".description"
	SuffixAppIdentifier = ".appidentifier"
)

// recordSuffixes starts with the trace; the rest are the optional siblings.
var recordSuffixes = []string{SuffixTrace, SuffixUser, SuffixContact, SuffixDescription, SuffixAppIdentifier}

// Record is one persisted fault occurrence. Optional fields are empty when
// absent.
type Record struct {
	ID            string
	Trace         string
	AppIdentifier string
	UserID        string
	Contact       string
	Description   string
}

// RecordStore keeps records as sibling files in one directory. It does not
// serialize operations on the same id; callers do.
type RecordStore struct {
	dir    string
	logger *zap.Logger
}

// NewRecordStore returns a store rooted at dir. The directory is created
// lazily by ListPending and Write.
func NewRecordStore(dir string, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{dir: dir, logger: logger}
}

// Dir returns the storage directory.
func (s *RecordStore) Dir() string { return s.dir }

func (s *RecordStore) path(id, suffix string) string {
	return filepath.Join(s.dir, id+suffix)
}

// ListPending returns the ids of all records in the directory, sorted. A
// directory that is missing and cannot be created yields an empty list.
func (s *RecordStore) ListPending() ([]string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		if _, statErr := os.Stat(s.dir); statErr != nil {
			s.logger.Debug("crash directory unavailable", zap.String("dir", s.dir), zap.Error(err))
			return nil, nil
		}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, newStorageUnavailable(s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, SuffixTrace) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, SuffixTrace))
	}
	sort.Strings(ids)
	return ids, nil
}

// Write persists rec. The siblings go first and the trace last, so a record
// is listed only once all of its files are in place. A sibling that fails to
// write is logged and read back later as an absent field; a failed trace
// write removes the siblings again and is returned. UserID and Contact are
// cut to 255 characters and blank fields are not written.
func (s *RecordStore) Write(rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id is empty")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return newStorageUnavailable(s.dir, err)
	}

	s.writeSibling(rec.ID, SuffixUser, limitString(rec.UserID, maxMetadataChars))
	s.writeSibling(rec.ID, SuffixContact, limitString(rec.Contact, maxMetadataChars))
	s.writeSibling(rec.ID, SuffixDescription, rec.Description)
	s.writeSibling(rec.ID, SuffixAppIdentifier, rec.AppIdentifier)

	if err := writeFileAtomic(s.path(rec.ID, SuffixTrace), []byte(rec.Trace)); err != nil {
		s.removeSiblings(rec.ID)
		return newStorageUnavailable(s.dir, err)
	}
	return nil
}

func (s *RecordStore) removeSiblings(id string) {
	for _, suffix := range recordSuffixes[1:] {
		if err := os.Remove(s.path(id, suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("removing orphaned record field failed", zap.String("record_id", id), zap.String("field", suffix), zap.Error(err))
		}
	}
}

func (s *RecordStore) writeSibling(id, suffix, value string) {
	if isBlank(value) {
		return
	}
	if err := os.WriteFile(s.path(id, suffix), []byte(value), 0o600); err != nil {
		s.logger.Warn("writing record field failed", zap.String("record_id", id), zap.String("field", suffix), zap.Error(err))
	}
}

// Read rebuilds the record with the given id. A missing, empty or unreadable
// trace returns a RECORD_CORRUPT error.
func (s *RecordStore) Read(id string) (Record, error) {
	b, err := os.ReadFile(s.path(id, SuffixTrace))
	if err != nil {
		return Record{}, newRecordCorrupt(id, err)
	}
	if len(b) == 0 {
		return Record{}, newRecordCorrupt(id, nil)
	}
	return Record{
		ID:            id,
		Trace:         string(b),
		AppIdentifier: s.readSibling(id, SuffixAppIdentifier),
		UserID:        s.readSibling(id, SuffixUser),
		Contact:       s.readSibling(id, SuffixContact),
		Description:   s.readSibling(id, SuffixDescription),
	}, nil
}

func (s *RecordStore) readSibling(id, suffix string) string {
	b, err := os.ReadFile(s.path(id, suffix))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("reading record field failed", zap.String("record_id", id), zap.String("field", suffix), zap.Error(err))
		}
		return ""
	}
	return string(b)
}

// Delete removes every file of the record. Deleting a missing record is not
// an error.
func (s *RecordStore) Delete(id string) error {
	var errs []error
	for _, suffix := range recordSuffixes {
		if err := os.Remove(s.path(id, suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteAll removes every pending record and returns how many were removed.
func (s *RecordStore) DeleteAll() (int, error) {
	ids, err := s.ListPending()
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for _, id := range ids {
		if err := s.Delete(id); err != nil {
			s.logger.Warn("deleting record failed", zap.String("record_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// Quarantine moves every file of the record into dstDir, taking it out of
// the pending set without losing it.
func (s *RecordStore) Quarantine(id, dstDir string) error {
	if _, err := os.Stat(s.path(id, SuffixTrace)); err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}
	for _, suffix := range recordSuffixes {
		src := s.path(id, suffix)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if _, err := MoveFileToDir(src, dstDir); err != nil {
			return fmt.Errorf("moving %s: %w", filepath.Base(src), err)
		}
	}
	return nil
}
