package calendar

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"gcalat/internal/log"
	"gcalat/internal/model"
)

// maxOccurrencesPerEvent caps recurrence expansion for one VEVENT.
const maxOccurrencesPerEvent = 1000

// ICSSource reads events from a single ICS subscription URL. Recurring
// events are expanded inside the query window; each occurrence becomes
// its own Event with a per-instance id, so edits to one instance only
// touch that instance's jobs.
type ICSSource struct {
	URL string
	// CacheDir holds the conditional-GET cache (ETag/Last-Modified plus
	// the last body, reused on 304 or network failure).
	CacheDir string

	client *http.Client
}

// NewICSSource builds an ICS feed source.
func NewICSSource(url, cacheDir string) *ICSSource {
	return &ICSSource{
		URL:      url,
		CacheDir: cacheDir,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// icsEvent is the normalized VEVENT form before expansion.
type icsEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Cancelled   bool
	LastMod     time.Time

	Start    time.Time
	End      time.Time
	RawRRule string
	ExDates  []time.Time
}

// Events fetches and parses the feed, expands recurrences into the
// query window, and returns occurrences ordered by modification time.
func (s *ICSSource) Events(ctx context.Context, q Query) ([]model.Event, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []model.Event
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			// Keep parsing the rest of the feed.
			log.Error("ics vevent skipped", perr, "url", redactURL(s.URL))
			continue
		}
		if q.UpdatedMin != nil && !ev.LastMod.IsZero() && ev.LastMod.Before(*q.UpdatedMin) {
			continue
		}
		out = append(out, expand(ev, q.TimeMin, q.TimeMax)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Updated < out[j].Updated })
	log.Info("ics events fetched", "url", redactURL(s.URL), "count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (icsEvent, error) {
	var ev icsEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		// ICS escapes newlines in text values.
		ev.Description = strings.ReplaceAll(p.Value, `\n`, "\n")
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}
	if p := ve.GetProperty("STATUS"); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		ev.Cancelled = true
	}
	if p := ve.GetProperty("LAST-MODIFIED"); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			ev.LastMod = t
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}
	ev.Start = start
	ev.End = end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}
	return ev, nil
}

// expand produces one model.Event per occurrence of ev inside
// [timeMin, timeMax].
func expand(ev icsEvent, timeMin, timeMax time.Time) []model.Event {
	if ev.RawRRule == "" {
		if ev.End.Before(timeMin) || ev.Start.After(timeMax) {
			return nil
		}
		return []model.Event{toEvent(ev, ev.UID, ev.Start, ev.End)}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		log.Error("ics rrule skipped", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	starts := set.Between(timeMin.In(ev.Start.Location()), timeMax.In(ev.Start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		log.Warn("ics recurrence truncated", "uid", ev.UID, "cap", maxOccurrencesPerEvent)
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]model.Event, 0, len(starts))
	for _, occStart := range starts {
		id := ev.UID + "/" + occStart.UTC().Format("20060102T150405Z")
		out = append(out, toEvent(ev, id, occStart, occStart.Add(dur)))
	}
	return out
}

func toEvent(ev icsEvent, id string, start, end time.Time) model.Event {
	status := model.StatusConfirmed
	if ev.Cancelled {
		status = model.StatusCancelled
	}
	updated := ""
	if !ev.LastMod.IsZero() {
		updated = ev.LastMod.Format(time.RFC3339)
	}
	return model.Event{
		ID:          id,
		Status:      status,
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       start.Format(time.RFC3339),
		End:         end.Format(time.RFC3339),
		Updated:     updated,
	}
}

// fetch performs a conditional GET against the feed, falling back to
// the cached body on 304, network failure, or a non-OK status.
func (s *ICSSource) fetch(ctx context.Context) ([]byte, error) {
	if s.URL == "" {
		return nil, errors.New("ics url is empty")
	}
	cachePath := ""
	var cachedBody []byte
	var etag, lastModified string
	if s.CacheDir != "" {
		sum := sha256.Sum256([]byte(s.URL))
		cachePath = filepath.Join(s.CacheDir, hex.EncodeToString(sum[:8]))
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.ics"))
		if meta, err := os.ReadFile(filepath.Join(cachePath, "meta")); err == nil {
			lines := strings.SplitN(string(meta), "\n", 2)
			etag = lines[0]
			if len(lines) > 1 {
				lastModified = strings.TrimSpace(lines[1])
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			log.Warn("ics fetch failed, using cached body", "url", redactURL(s.URL), "detail", err)
			return cachedBody, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return nil, rerr
		}
		if cachePath != "" {
			s.saveCache(cachePath, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), body)
		}
		return body, nil
	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("304 Not Modified but no cached body")
		}
		return cachedBody, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.Join(ErrCredentials, errors.New(resp.Status))
	default:
		if len(cachedBody) > 0 {
			log.Warn("ics fetch non-OK, using cached body", "url", redactURL(s.URL), "status", resp.StatusCode)
			return cachedBody, nil
		}
		return nil, errors.New(resp.Status)
	}
}

func (s *ICSSource) saveCache(cachePath, etag, lastModified string, body []byte) {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		log.Warn("ics cache dir", "detail", err)
		return
	}
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		log.Warn("ics cache body", "detail", err)
		return
	}
	meta := etag + "\n" + lastModified
	if err := os.WriteFile(filepath.Join(cachePath, "meta"), []byte(meta), 0o600); err != nil {
		log.Warn("ics cache meta", "detail", err)
	}
}

// parseICSTime parses the basic ICS date/date-time forms.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}

// redactURL hides path and query of a feed URL for logging.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return u[:i+3] + rest[:j] + "/...(redacted)"
	}
	return u
}
