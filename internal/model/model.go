package model

import "time"

// EventStatus is the lifecycle state a calendar source reports for an event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusCancelled EventStatus = "cancelled"
)

// Event is one calendar event as fetched from a source. Start/End/Updated
// are kept as the raw RFC 3339 strings the source delivered; parsing them
// is the command parser's job so that a malformed timestamp surfaces as a
// per-event failure instead of poisoning the whole fetch.
type Event struct {
	ID          string
	Status      EventStatus
	Summary     string
	Location    string
	Description string

	Start   string
	End     string
	Updated string
}

// CommandEntry is one timed command derived from an event description.
// Entries only live within a single reconciliation pass.
type CommandEntry struct {
	ExecTime time.Time
	Command  string
}

// EventAction is the per-event outcome of reconciliation. Jobs previously
// recorded for EventID are always cancelled; Entries, if any, are the new
// commands to schedule afterwards.
type EventAction struct {
	EventID string
	Entries []CommandEntry
}

// CancelOnly reports whether the action carries no new commands.
func (a EventAction) CancelOnly() bool { return len(a.Entries) == 0 }

// JobRecord remembers the OS job ids scheduled for one event, together
// with the calendar date they fall on (used for expiry).
type JobRecord struct {
	Date string   `json:"date"` // YYYY-MM-DD
	IDs  []string `json:"ids"`
}

// JobDateLayout is the on-disk format of JobRecord.Date.
const JobDateLayout = "2006-01-02"
