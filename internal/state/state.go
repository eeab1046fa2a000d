// Package state persists the mapping from calendar event ids to the OS
// job ids currently scheduled for them, plus the last-synchronization
// timestamp. The on-disk file is the sole source of truth for what is
// scheduled between runs.
package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gcalat/internal/log"
	"gcalat/internal/model"
)

// Store holds one process-wide sync state record. It is not safe for
// concurrent use; one sync cycle runs to completion before the next.
type Store struct {
	path string

	CalendarID string
	lastSync   *time.Time
	jobs       map[string]model.JobRecord
}

// fileState is the JSON shape of the settings file.
type fileState struct {
	Jobs       map[string]model.JobRecord `json:"jobs"`
	CalendarID string                     `json:"calendarId"`
	LastSync   *string                    `json:"last_sync"`
}

// Load reads the state file at path. A missing file yields an empty
// store; a corrupt file is an error.
func Load(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	s := &Store{
		path: path,
		jobs: make(map[string]model.JobRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}

	var f fileState
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	s.CalendarID = f.CalendarID
	if f.Jobs != nil {
		s.jobs = f.Jobs
	}
	if f.LastSync != nil && *f.LastSync != "" {
		t, err := time.Parse(time.RFC3339, *f.LastSync)
		if err != nil {
			return nil, err
		}
		s.lastSync = &t
	}
	return s, nil
}

// Save writes the state atomically: temp file in the same directory,
// fsync, chmod 0600, rename over the target.
func (s *Store) Save() error {
	f := fileState{
		Jobs:       s.jobs,
		CalendarID: s.CalendarID,
	}
	if s.lastSync != nil {
		v := s.lastSync.Format(time.RFC3339)
		f.LastSync = &v
	}
	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gcalat-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// LastSync returns the last successful synchronization time, or nil on
// a fresh store.
func (s *Store) LastSync() *time.Time { return s.lastSync }

// SetLastSync records the completion time of a cycle.
func (s *Store) SetLastSync(t time.Time) { s.lastSync = &t }

// ClearLastSync forgets the synchronization watermark (full reset).
func (s *Store) ClearLastSync() { s.lastSync = nil }

// RecordSchedule appends jobID to the record for eventID, creating the
// record (dated by execTime) if absent.
func (s *Store) RecordSchedule(eventID string, execTime time.Time, jobID string) {
	rec, ok := s.jobs[eventID]
	if !ok {
		rec = model.JobRecord{Date: execTime.Format(model.JobDateLayout)}
	}
	rec.IDs = append(rec.IDs, jobID)
	s.jobs[eventID] = rec
}

// RecordCancel removes and returns the job ids recorded for eventID.
// An unknown event id yields nil, not an error.
func (s *Store) RecordCancel(eventID string) []string {
	rec, ok := s.jobs[eventID]
	if !ok {
		return nil
	}
	delete(s.jobs, eventID)
	return rec.IDs
}

// Expire removes every record whose date is strictly more than one day
// before now. Records dated yesterday or today survive, so same-day
// reschedules are unaffected. Returns the number of records removed.
func (s *Store) Expire(now time.Time) int {
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
	removed := 0
	for id, rec := range s.jobs {
		d, err := time.ParseInLocation(model.JobDateLayout, rec.Date, now.Location())
		if err != nil {
			log.Warn("dropping job record with unparseable date", "event_id", id, "date", rec.Date)
			delete(s.jobs, id)
			removed++
			continue
		}
		if d.Before(yesterday) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// ResetAll clears the store and returns every recorded job id, for a
// full reset that also cancels everything at the OS level.
func (s *Store) ResetAll() []string {
	var ids []string
	for _, rec := range s.jobs {
		ids = append(ids, rec.IDs...)
	}
	s.jobs = make(map[string]model.JobRecord)
	return ids
}

// Jobs returns the record for eventID, if any.
func (s *Store) Jobs(eventID string) (model.JobRecord, bool) {
	rec, ok := s.jobs[eventID]
	return rec, ok
}

// Len returns the number of job records held.
func (s *Store) Len() int { return len(s.jobs) }
