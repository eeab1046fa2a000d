// Package calendar provides the event sources the synchronizer reads
// from: a Google Calendar REST backend and an ICS feed backend.
package calendar

import (
	"context"
	"errors"
	"time"

	"gcalat/internal/model"
)

// ErrCredentials signals that the source's credentials are invalid or
// have been revoked. The cycle aborts; re-authorization is required.
var ErrCredentials = errors.New("calendar credentials invalid or revoked")

// Query selects events by time window and, optionally, by minimum
// last-modification time.
type Query struct {
	TimeMin time.Time
	TimeMax time.Time
	// UpdatedMin, when set, restricts results to events modified at or
	// after it and asks the source to include deleted/cancelled events.
	UpdatedMin *time.Time
}

// Source fetches events for a query, handling pagination internally.
type Source interface {
	Events(ctx context.Context, q Query) ([]model.Event, error)
}
