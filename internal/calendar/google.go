package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"gcalat/internal/log"
	"gcalat/internal/model"
)

const (
	googleBaseURL    = "https://www.googleapis.com/calendar/v3"
	googleMaxResults = 1000
	// googleFields limits the response payload to what reconciliation needs.
	googleFields = "nextPageToken,items(id,status,updated,summary,location,description,start,end)"
)

// GoogleSource reads a single calendar through the Calendar v3
// events.list endpoint, following nextPageToken pagination.
type GoogleSource struct {
	CalendarID string

	client  *http.Client
	baseURL string
}

// NewGoogleSource builds a source whose HTTP client injects and
// refreshes OAuth tokens from ts.
func NewGoogleSource(ctx context.Context, calendarID string, ts oauth2.TokenSource) *GoogleSource {
	return &GoogleSource{
		CalendarID: calendarID,
		client:     oauth2.NewClient(ctx, ts),
		baseURL:    googleBaseURL,
	}
}

// googleTime is the API's start/end shape: dateTime for timed events,
// date for all-day events.
type googleTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t googleTime) raw() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	// All-day events carry a bare date, which later fails RFC 3339
	// parsing and skips the event; all-day events carry no exec time.
	return t.Date
}

type googleEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Updated     string     `json:"updated"`
	Summary     string     `json:"summary"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	Start       googleTime `json:"start"`
	End         googleTime `json:"end"`
}

type googlePage struct {
	NextPageToken string        `json:"nextPageToken"`
	Items         []googleEvent `json:"items"`
}

// Events lists the calendar's events for the query window in
// updated-time ascending order.
func (g *GoogleSource) Events(ctx context.Context, q Query) ([]model.Event, error) {
	var out []model.Event
	pageToken := ""
	for {
		page, err := g.fetchPage(ctx, q, pageToken)
		if err != nil {
			return nil, err
		}
		for _, it := range page.Items {
			out = append(out, model.Event{
				ID:          it.ID,
				Status:      model.EventStatus(it.Status),
				Summary:     it.Summary,
				Location:    it.Location,
				Description: it.Description,
				Start:       it.Start.raw(),
				End:         it.End.raw(),
				Updated:     it.Updated,
			})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	log.Info("google events fetched", "calendar_id", g.CalendarID, "count", len(out))
	return out, nil
}

func (g *GoogleSource) fetchPage(ctx context.Context, q Query, pageToken string) (*googlePage, error) {
	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(googleMaxResults))
	params.Set("orderBy", "updated")
	params.Set("singleEvents", "true")
	params.Set("fields", googleFields)
	params.Set("timeMin", q.TimeMin.Format(time.RFC3339))
	params.Set("timeMax", q.TimeMax.Format(time.RFC3339))
	if q.UpdatedMin != nil {
		params.Set("updatedMin", q.UpdatedMin.Format(time.RFC3339))
		// We want to learn about events deleted since the last sync.
		params.Set("showDeleted", "true")
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	u := g.baseURL + "/calendars/" + url.PathEscape(g.CalendarID) + "/events?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var page googlePage
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return nil, fmt.Errorf("decode events page: %w", err)
		}
		return &page, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrCredentials, resp.Status)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("events list: %s: %s", resp.Status, string(body))
	}
}
