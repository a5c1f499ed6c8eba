// Package agenda turns an ICS calendar feed into the short list of upcoming
// events shown by the agenda writer.
package agenda

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "inkyepd/internal/log"
)

// maxBody bounds a downloaded feed.
const maxBody = 4 << 20

// Event is a VEVENT reduced to what the panel shows.
type Event struct {
	UID      string
	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on an override of one instance of a recurring event.
	RecurrenceID *time.Time
}

// Occurrence is one concrete instance of an Event.
type Occurrence struct {
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Parse reads all VEVENTs of an ICS payload. Events without a UID or start
// are skipped with a warning.
func Parse(body []byte) ([]Event, error) {
	if len(body) == 0 {
		return nil, errors.New("agenda: empty calendar")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agenda: parse calendar: %w", err)
	}

	var out []Event
	for _, ve := range cal.Events() {
		ev, err := parseEvent(ve)
		if err != nil {
			appLog.Warn("skipping calendar event", "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEvent(ve *ical.VEvent) (Event, error) {
	var ev Event
	p := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if p == nil || p.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = p.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, fmt.Errorf("event %s: missing DTSTART", ev.UID)
	}
	ev.AllDay = !strings.Contains(dtStart.Value, "T")
	if vs := dtStart.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		ev.AllDay = true
	}

	start, err := ve.GetStartAt()
	if err != nil {
		if start, err = parseTime(dtStart.Value, propLocation(dtStart, time.Local)); err != nil {
			return ev, fmt.Errorf("event %s: DTSTART: %w", ev.UID, err)
		}
	}
	ev.Start = start

	switch end, err := ve.GetEndAt(); {
	case err == nil:
		ev.End = end
	case ev.AllDay:
		ev.End = start.AddDate(0, 0, 1)
	default:
		ev.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propLocation(p, start.Location())
		for _, v := range strings.Split(p.Value, ",") {
			t, err := parseTime(v, loc)
			if err != nil {
				appLog.Warn("skipping bad EXDATE", "uid", ev.UID, "value", v, "err", err)
				continue
			}
			ev.ExDates = append(ev.ExDates, t)
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseTime(p.Value, propLocation(p, start.Location())); err == nil {
			ev.RecurrenceID = &t
		}
	}
	return ev, nil
}

// propLocation resolves the TZID parameter of a date property. Values
// without one are floating and take def, the zone of the event's start.
func propLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	tzids := p.ICalParameters["TZID"]
	if len(tzids) == 0 || tzids[0] == "" {
		return def
	}
	loc, err := time.LoadLocation(strings.Trim(tzids[0], `"`))
	if err != nil {
		appLog.Warn("unknown TZID, using event zone", "tzid", tzids[0], "err", err)
		return def
	}
	return loc
}

// parseTime handles the basic DATE and DATE-TIME forms. UTC values ignore loc.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// Upcoming expands events into the occurrences overlapping
// [from, from+horizon), sorted by start and capped at limit (0 = no cap).
// Overrides replace the instance of the recurring event they name.
func Upcoming(events []Event, from time.Time, horizon time.Duration, limit int) []Occurrence {
	to := from.Add(horizon)

	overrides := map[string][]Event{}
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	var out []Occurrence
	add := func(ev Event, start, end time.Time) {
		if start.Before(to) && end.After(from) {
			out = append(out, Occurrence{
				Summary:  ev.Summary,
				Location: ev.Location,
				Start:    start,
				End:      end,
				AllDay:   ev.AllDay,
			})
		}
	}

	for _, ev := range events {
		if ev.RecurrenceID != nil {
			add(ev, ev.Start, ev.End)
			continue
		}
		if ev.RRule == "" {
			add(ev, ev.Start, ev.End)
			continue
		}

		r, err := rrule.StrToRRule(ev.RRule)
		if err != nil {
			appLog.Warn("bad recurrence rule", "uid", ev.UID, "rrule", ev.RRule, "err", err)
			continue
		}
		r.DTStart(ev.Start)

		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.ExDates {
			set.ExDate(ex.In(ev.Start.Location()))
		}
		for _, ex := range overrides[ev.UID] {
			set.ExDate(ex.RecurrenceID.In(ev.Start.Location()))
		}

		dur := ev.End.Sub(ev.Start)
		// Start one duration early so instances already running are kept.
		for _, s := range set.Between(from.Add(-dur).In(ev.Start.Location()), to.In(ev.Start.Location()), true) {
			add(ev, s, s.Add(dur))
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Line formats an occurrence for a narrow panel: the weekday is omitted for
// events that start on the same day as now.
func Line(o Occurrence, now time.Time) string {
	start := o.Start.In(now.Location())
	var when string
	switch {
	case o.AllDay && sameDay(start, now):
		when = "today"
	case o.AllDay:
		when = start.Format("Mon")
	case sameDay(start, now):
		when = start.Format("15:04")
	default:
		when = start.Format("Mon 15:04")
	}
	return when + " " + o.Summary
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Fetcher downloads calendar feeds and keeps the last good body per URL so
// a flaky network does not blank the panel.
type Fetcher struct {
	client *http.Client

	mu       sync.Mutex
	lastGood map[string][]byte
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		lastGood: map[string][]byte{},
	}
}

// Fetch returns the feed body, or the last good body if the download fails.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	body, err := f.get(ctx, feedURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if cached, ok := f.lastGood[feedURL]; ok {
			appLog.Warn("calendar fetch failed, using last good copy", "url", redactURL(feedURL), "err", err)
			return cached, nil
		}
		return nil, err
	}
	f.lastGood[feedURL] = body
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("agenda: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agenda: fetch %s: %w", redactURL(feedURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agenda: fetch %s: %s", redactURL(feedURL), resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("agenda: read %s: %w", redactURL(feedURL), err)
	}
	return body, nil
}

// redactURL drops the query, which often carries a private token.
func redactURL(u string) string {
	p, err := url.Parse(u)
	if err != nil {
		return "<invalid url>"
	}
	p.RawQuery = ""
	p.User = nil
	return p.String()
}
