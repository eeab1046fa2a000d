package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gcalat/internal/model"
)

const testFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e1\r\n" +
	"DTSTART:20300102T100000Z\r\n" +
	"DTEND:20300102T110000Z\r\n" +
	"SUMMARY:Wakeup\r\n" +
	"LOCATION:home\r\n" +
	"DESCRIPTION:echo hi\\nend: echo bye\r\n" +
	"LAST-MODIFIED:20291201T000000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e2\r\n" +
	"DTSTART:20300103T100000Z\r\n" +
	"DTEND:20300103T110000Z\r\n" +
	"SUMMARY:Dropped\r\n" +
	"STATUS:CANCELLED\r\n" +
	"LAST-MODIFIED:20291220T000000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:e3\r\n" +
	"DTSTART:20300104T090000Z\r\n" +
	"DTEND:20300104T093000Z\r\n" +
	"SUMMARY:Daily\r\n" +
	"RRULE:FREQ=DAILY;COUNT=3\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:far\r\n" +
	"DTSTART:20301201T100000Z\r\n" +
	"DTEND:20301201T110000Z\r\n" +
	"SUMMARY:Outside window\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func serveFeed(t *testing.T) *ICSSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)
	s := NewICSSource(srv.URL, t.TempDir())
	s.client = srv.Client()
	return s
}

func testWindow() Query {
	return Query{
		TimeMin: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		TimeMax: time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC),
	}
}

func eventByID(events []model.Event, id string) (model.Event, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return model.Event{}, false
}

func TestICSEvents(t *testing.T) {
	s := serveFeed(t)
	events, err := s.Events(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	// e1, e2, three expansions of e3; "far" excluded.
	if len(events) != 5 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}

	e1, ok := eventByID(events, "e1")
	if !ok {
		t.Fatal("e1 missing")
	}
	if e1.Status != model.StatusConfirmed || e1.Start != "2030-01-02T10:00:00Z" || e1.End != "2030-01-02T11:00:00Z" {
		t.Errorf("e1 = %+v", e1)
	}
	if !strings.Contains(e1.Description, "echo hi\nend: echo bye") {
		t.Errorf("description newline not unescaped: %q", e1.Description)
	}

	e2, ok := eventByID(events, "e2")
	if !ok || e2.Status != model.StatusCancelled {
		t.Errorf("e2 = %+v ok=%v", e2, ok)
	}

	for day := 4; day <= 6; day++ {
		id := fmt.Sprintf("e3/203001%02dT090000Z", day)
		occ, ok := eventByID(events, id)
		if !ok {
			t.Errorf("occurrence %s missing", id)
			continue
		}
		wantStart := time.Date(2030, 1, day, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
		if occ.Start != wantStart {
			t.Errorf("occurrence %s start = %s, want %s", id, occ.Start, wantStart)
		}
	}
}

func TestICSEventsUpdatedMinFilter(t *testing.T) {
	s := serveFeed(t)
	updatedMin := time.Date(2029, 12, 15, 0, 0, 0, 0, time.UTC)
	q := testWindow()
	q.UpdatedMin = &updatedMin

	events, err := s.Events(context.Background(), q)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if _, ok := eventByID(events, "e1"); ok {
		t.Error("e1 not filtered despite old LAST-MODIFIED")
	}
	if _, ok := eventByID(events, "e2"); !ok {
		t.Error("e2 filtered although modified after updatedMin")
	}
	// Events without LAST-MODIFIED are kept.
	if _, ok := eventByID(events, "e3/20300104T090000Z"); !ok {
		t.Error("unmodified-unknown event filtered")
	}
}

func TestICSCachedBodyOn304(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Write([]byte(testFeed))
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("conditional header missing: %v", r.Header)
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	s := NewICSSource(srv.URL, t.TempDir())
	s.client = srv.Client()

	for i := 0; i < 2; i++ {
		events, err := s.Events(context.Background(), testWindow())
		if err != nil {
			t.Fatalf("Events call %d: %v", i+1, err)
		}
		if len(events) != 5 {
			t.Errorf("call %d: got %d events", i+1, len(events))
		}
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2", calls)
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.com/private/feed.ics?token=abcd")
	if strings.Contains(got, "token") || strings.Contains(got, "feed.ics") {
		t.Errorf("redactURL leaked: %s", got)
	}
	if !strings.HasPrefix(got, "https://example.com") {
		t.Errorf("redactURL lost host: %s", got)
	}
}
