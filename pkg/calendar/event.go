package calendar

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
)

// Event is the compact view of a calendar event handed to the model.
type Event struct {
	ID           string   `json:"id"`
	Summary      string   `json:"summary"`
	Description  string   `json:"description"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Location     string   `json:"location"`
	Attendees    []string `json:"attendees"`
	HTMLLink     string   `json:"htmlLink"`
	CalendarName string   `json:"calendar_name,omitempty"`
	CalendarID   string   `json:"calendar_id,omitempty"`
}

// FormatEvent converts an API event. All-day events use their date.
func FormatEvent(e *calendar.Event) Event {
	summary := e.Summary
	if summary == "" {
		summary = "No title"
	}
	attendees := make([]string, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		if a.Email != "" {
			attendees = append(attendees, a.Email)
		}
	}
	return Event{
		ID:          e.Id,
		Summary:     summary,
		Description: e.Description,
		Start:       eventTime(e.Start),
		End:         eventTime(e.End),
		Location:    e.Location,
		Attendees:   attendees,
		HTMLLink:    e.HtmlLink,
	}
}

// FormatEvents converts a list of API events.
func FormatEvents(events []*calendar.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		out = append(out, FormatEvent(e))
	}
	return out
}

func eventTime(t *calendar.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

func (e Event) startTime() time.Time {
	if t, err := time.Parse(time.RFC3339, e.Start); err == nil {
		return t
	}
	if t, err := time.Parse(time.DateOnly, e.Start); err == nil {
		return t
	}
	return time.Time{}
}

// EventChanges holds the fields of a partial update. Nil fields are left as is.
// Start and End are ISO 8601 strings; those without an offset are read in
// TimeZone, or in the zone of the existing event when TimeZone is empty.
type EventChanges struct {
	Summary     *string
	Description *string
	Location    *string
	Start       *string
	End         *string
	TimeZone    string
}

// Empty reports whether no field is set.
func (c EventChanges) Empty() bool {
	return c.Summary == nil && c.Description == nil && c.Location == nil && c.Start == nil && c.End == nil
}

// Apply writes the set fields into event.
func (c EventChanges) Apply(event *calendar.Event) error {
	tz := c.zone(event)
	var start, end *calendar.EventDateTime
	if c.Start != nil {
		t, err := ParseTime(*c.Start, tz)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		start = &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
	}
	if c.End != nil {
		t, err := ParseTime(*c.End, tz)
		if err != nil {
			return fmt.Errorf("end: %w", err)
		}
		end = &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
	}

	if c.Summary != nil {
		event.Summary = *c.Summary
	}
	if c.Description != nil {
		event.Description = *c.Description
	}
	if c.Location != nil {
		event.Location = *c.Location
	}
	if start != nil {
		event.Start = start
	}
	if end != nil {
		event.End = end
	}
	return nil
}

func (c EventChanges) zone(event *calendar.Event) string {
	if c.TimeZone != "" {
		return c.TimeZone
	}
	for _, dt := range []*calendar.EventDateTime{event.Start, event.End} {
		if dt != nil && dt.TimeZone != "" {
			return dt.TimeZone
		}
	}
	return "UTC"
}

// NewEvent builds an event for insertion. tz defaults to UTC.
func NewEvent(summary, description, location string, start, end time.Time, tz string) *calendar.Event {
	if tz == "" {
		tz = "UTC"
	}
	return &calendar.Event{
		Summary:     summary,
		Description: description,
		Location:    location,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
	}
}

// ErrInvalidTime is returned by ParseTime.
var ErrInvalidTime = errors.New("invalid time")

// ParseTime parses an ISO 8601 timestamp. Timestamps without an offset are
// interpreted in tz, or UTC when tz is empty.
func ParseTime(s, tz string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidTime, tz)
		}
		loc = l
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}
