package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var (
	// ErrClientRetrieve is returned when the Calendar client cannot be retrieved.
	ErrClientRetrieve = errors.New("unable to retrieve Calendar client")
	// ErrListCalendars is returned when the calendars cannot be listed.
	ErrListCalendars = errors.New("unable to list calendars")
	// ErrListEvents is returned when the events cannot be listed.
	ErrListEvents = errors.New("unable to retrieve events")
	// ErrGetEvent is returned when an event cannot be fetched.
	ErrGetEvent = errors.New("unable to get event")
	// ErrCreateEvent is returned when an event cannot be created.
	ErrCreateEvent = errors.New("unable to create event")
	// ErrUpdateEvent is returned when an event cannot be updated.
	ErrUpdateEvent = errors.New("unable to update event")
	// ErrPatchEvent is returned when an event cannot be patched.
	ErrPatchEvent = errors.New("unable to patch event")
	// ErrDeleteEvent is returned when an event cannot be deleted.
	ErrDeleteEvent = errors.New("unable to delete event")
)

// PrimaryCalendar is the alias Google accepts for the user's main calendar.
const PrimaryCalendar = "primary"

// maxConcurrentCalendars bounds the fan-out in ListAllEvents.
const maxConcurrentCalendars = 4

// Client is a wrapper around the Google Calendar API service.
type Client struct {
	Service *calendar.Service
}

// API defines the interface for interacting with Google Calendar.
// This allows for mocking in tests.
type API interface {
	ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error)
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax string, maxResults int64) ([]*calendar.Event, error)
	ListAllEvents(ctx context.Context, timeMin, timeMax string, maxPerCalendar int64) ([]Event, error)
	SearchEvents(ctx context.Context, calendarID, query string, maxResults int64) ([]*calendar.Event, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)
	CreateEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, changes EventChanges) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

var _ API = (*Client)(nil)

// NewClient creates a Calendar client authenticated by httpClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClientRetrieve, err)
	}
	return &Client{Service: srv}, nil
}

// ListCalendars lists the available calendars.
func (c *Client) ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	list, err := c.Service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListCalendars, err)
	}
	return list.Items, nil
}

// ListEvents lists upcoming events from the specified calendar.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax string, maxResults int64) ([]*calendar.Event, error) {
	call := c.listCall(calendarID, timeMin, timeMax, maxResults)
	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListEvents, err)
	}
	return events.Items, nil
}

// SearchEvents lists upcoming events matching a free-text query.
func (c *Client) SearchEvents(ctx context.Context, calendarID, query string, maxResults int64) ([]*calendar.Event, error) {
	call := c.listCall(calendarID, "", "", maxResults).Q(query)
	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListEvents, err)
	}
	return events.Items, nil
}

func (c *Client) listCall(calendarID, timeMin, timeMax string, maxResults int64) *calendar.EventsListCall {
	if timeMin == "" {
		timeMin = time.Now().Format(time.RFC3339)
	}
	call := c.Service.Events.List(calendarID).ShowDeleted(false).
		SingleEvents(true).TimeMin(timeMin).OrderBy("startTime")

	if timeMax != "" {
		call = call.TimeMax(timeMax)
	}
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}
	return call
}

// ListAllEvents lists events from every calendar of the user concurrently.
// Events are annotated with their calendar and sorted by start time.
// Calendars that fail are logged and skipped.
func (c *Client) ListAllEvents(ctx context.Context, timeMin, timeMax string, maxPerCalendar int64) ([]Event, error) {
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	results := make([][]Event, len(calendars))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalendars)
	for i, cal := range calendars {
		g.Go(func() error {
			items, err := c.ListEvents(gctx, cal.Id, timeMin, timeMax, maxPerCalendar)
			if err != nil {
				logger.Warn().Err(err).Str("calendar_id", cal.Id).Msg("skipping calendar")
				return nil
			}
			events := lo.Map(items, func(e *calendar.Event, _ int) Event {
				ev := FormatEvent(e)
				ev.CalendarName = cal.Summary
				ev.CalendarID = cal.Id
				return ev
			})
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := lo.Flatten(results)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].startTime().Before(all[j].startTime())
	})
	return all, nil
}

// GetEvent fetches a single event.
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	event, err := c.Service.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetEvent, err)
	}
	return event, nil
}

// CreateEvent creates a new event in the specified calendar.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	createdEvent, err := c.Service.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateEvent, err)
	}
	return createdEvent, nil
}

// UpdateEvent fetches the event, merges the provided changes and patches
// only the fields that changed.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, changes EventChanges) (*calendar.Event, error) {
	existing, err := c.GetEvent(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}
	merged := *existing
	if err := changes.Apply(&merged); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpdateEvent, err)
	}

	patch := &calendar.Event{}
	if changes.Summary != nil {
		patch.Summary = merged.Summary
		patch.ForceSendFields = append(patch.ForceSendFields, "Summary")
	}
	if changes.Description != nil {
		patch.Description = merged.Description
		patch.ForceSendFields = append(patch.ForceSendFields, "Description")
	}
	if changes.Location != nil {
		patch.Location = merged.Location
		patch.ForceSendFields = append(patch.ForceSendFields, "Location")
	}
	if changes.Start != nil {
		patch.Start = merged.Start
	}
	if changes.End != nil {
		patch.End = merged.End
	}
	return c.PatchEvent(ctx, calendarID, eventID, patch)
}

// PatchEvent sends a partial update of an event in the specified calendar.
func (c *Client) PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	patchedEvent, err := c.Service.Events.Patch(calendarID, eventID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPatchEvent, err)
	}
	return patchedEvent, nil
}

// DeleteEvent deletes an event from the specified calendar.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.Service.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteEvent, err)
	}
	return nil
}

// Window returns RFC3339 bounds from now to now+daysAhead.
func Window(now time.Time, daysAhead int) (string, string) {
	return now.Format(time.RFC3339), now.AddDate(0, 0, daysAhead).Format(time.RFC3339)
}
