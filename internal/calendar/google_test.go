package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gcalat/internal/model"
)

func testGoogleSource(srv *httptest.Server) *GoogleSource {
	return &GoogleSource{
		CalendarID: "me@example.com",
		client:     srv.Client(),
		baseURL:    srv.URL,
	}
}

func TestGoogleEventsPagination(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		q := r.URL.Query()
		if q.Get("orderBy") != "updated" || q.Get("singleEvents") != "true" || q.Get("maxResults") != "1000" {
			t.Errorf("unexpected query params: %v", q)
		}
		if q.Get("timeMin") == "" || q.Get("timeMax") == "" {
			t.Error("missing time window params")
		}
		w.Header().Set("Content-Type", "application/json")
		if q.Get("pageToken") == "" {
			fmt.Fprint(w, `{
				"nextPageToken": "p2",
				"items": [{
					"id": "e1", "status": "confirmed", "updated": "2030-05-30T10:00:00Z",
					"summary": "Wakeup", "location": "home", "description": "echo hi",
					"start": {"dateTime": "2030-06-19T08:30:00Z"},
					"end": {"dateTime": "2030-06-19T09:00:00Z"}
				}]
			}`)
			return
		}
		fmt.Fprint(w, `{
			"items": [{
				"id": "e2", "status": "cancelled", "updated": "2030-05-30T11:00:00Z",
				"start": {"date": "2030-06-20"},
				"end": {"date": "2030-06-21"}
			}]
		}`)
	}))
	defer srv.Close()

	g := testGoogleSource(srv)
	events, err := g.Events(context.Background(), Query{
		TimeMin: time.Date(2030, 6, 18, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2030, 6, 25, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if len(gotPaths) != 2 || gotPaths[0] != "/calendars/me@example.com/events" {
		t.Errorf("request paths = %v", gotPaths)
	}

	e1 := events[0]
	if e1.ID != "e1" || e1.Status != model.StatusConfirmed || e1.Start != "2030-06-19T08:30:00Z" {
		t.Errorf("e1 = %+v", e1)
	}
	// All-day events fall back to the bare date, which the parser later
	// rejects per-event.
	e2 := events[1]
	if e2.ID != "e2" || e2.Status != model.StatusCancelled || e2.Start != "2030-06-20" {
		t.Errorf("e2 = %+v", e2)
	}
}

func TestGoogleEventsUpdatedMin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("updatedMin") != "2030-05-25T00:00:00Z" {
			t.Errorf("updatedMin = %q", q.Get("updatedMin"))
		}
		if q.Get("showDeleted") != "true" {
			t.Error("showDeleted not requested with updatedMin")
		}
		fmt.Fprint(w, `{"items": []}`)
	}))
	defer srv.Close()

	updatedMin := time.Date(2030, 5, 25, 0, 0, 0, 0, time.UTC)
	_, err := testGoogleSource(srv).Events(context.Background(), Query{
		TimeMin:    time.Date(2030, 6, 18, 0, 0, 0, 0, time.UTC),
		TimeMax:    time.Date(2030, 6, 25, 0, 0, 0, 0, time.UTC),
		UpdatedMin: &updatedMin,
	})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
}

func TestGoogleEventsCredentialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "token revoked", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testGoogleSource(srv).Events(context.Background(), Query{
		TimeMin: time.Now(),
		TimeMax: time.Now().Add(time.Hour),
	})
	if !errors.Is(err, ErrCredentials) {
		t.Errorf("err = %v, want ErrCredentials", err)
	}
}
