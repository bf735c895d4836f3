package calendarmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bttk/calendar-assistant/pkg/calendar"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"
	googleCalendar "google.golang.org/api/calendar/v3"
)

// Tool names.
const (
	ListCalendarsName = "list_calendars"
	GetEventsName     = "get_calendar_events"
	GetAllEventsName  = "get_all_calendar_events"
	SearchEventsName  = "search_calendar_events"
	CreateEventName   = "create_calendar_event"
	UpdateEventName   = "update_calendar_event"
	DeleteEventName   = "delete_calendar_event"
)

const (
	defaultMaxResults     = 10
	defaultMaxPerCalendar = 50
	defaultDaysAhead      = 7
	defaultTimeZone       = "UTC"
)

// Handler is the signature shared by all tool handlers.
type Handler = server.ToolHandlerFunc

// Tools returns every calendar tool bound to client. An empty allowed list
// permits all calendars.
func Tools(client calendar.API, allowed []string) []server.ServerTool {
	return []server.ServerTool{
		{Tool: ListCalendarsTool(), Handler: ListCalendarsHandler(client, allowed)},
		{Tool: GetEventsTool(), Handler: GetEventsHandler(client, allowed)},
		{Tool: GetAllEventsTool(), Handler: GetAllEventsHandler(client, allowed)},
		{Tool: SearchEventsTool(), Handler: SearchEventsHandler(client, allowed)},
		{Tool: CreateEventTool(), Handler: CreateEventHandler(client, allowed)},
		{Tool: UpdateEventTool(), Handler: UpdateEventHandler(client, allowed)},
		{Tool: DeleteEventTool(), Handler: DeleteEventHandler(client, allowed)},
	}
}

func isCalendarAllowed(calendarID string, allowedCalendars []string) bool {
	return len(allowedCalendars) == 0 || slices.Contains(allowedCalendars, calendarID)
}

func calendarArg(request mcp.CallToolRequest, allowed []string) (string, *mcp.CallToolResult) {
	calendarID := request.GetString("calendar_id", calendar.PrimaryCalendar)
	if calendarID == "" {
		calendarID = calendar.PrimaryCalendar
	}
	if !isCalendarAllowed(calendarID, allowed) {
		return "", mcp.NewToolResultError(fmt.Sprintf("access to calendar '%s' is not allowed by configuration", calendarID))
	}
	return calendarID, nil
}

// JSONResult marshals v into a text result.
func JSONResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result to JSON: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

// CalendarInfo is the list_calendars entry.
type CalendarInfo struct {
	ID         string `json:"id"`
	Summary    string `json:"summary"`
	Primary    bool   `json:"primary"`
	AccessRole string `json:"access_role"`
}

func ListCalendarsTool() mcp.Tool {
	return mcp.NewTool(ListCalendarsName,
		mcp.WithDescription("List all Google calendars for a user. Returns calendar names, IDs, and access roles."),
	)
}

func ListCalendarsHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calendarList, err := client.ListCalendars(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list calendars: %v", err)), nil
		}

		infos := lo.FilterMap(calendarList, func(item *googleCalendar.CalendarListEntry, _ int) (CalendarInfo, bool) {
			return CalendarInfo{
				ID:         item.Id,
				Summary:    item.Summary,
				Primary:    item.Primary,
				AccessRole: item.AccessRole,
			}, isCalendarAllowed(item.Id, allowed)
		})
		return JSONResult(infos), nil
	}
}

func GetEventsTool() mcp.Tool {
	return mcp.NewTool(GetEventsName,
		mcp.WithDescription("Get upcoming events from a single Google Calendar."),
		mcp.WithNumber("max_results", mcp.DefaultNumber(defaultMaxResults), mcp.Description("Maximum number of events to return.")),
		mcp.WithString("calendar_id", mcp.DefaultString(calendar.PrimaryCalendar), mcp.Description("Calendar ID (default: 'primary').")),
		mcp.WithNumber("days_ahead", mcp.DefaultNumber(defaultDaysAhead), mcp.Description("How many days ahead to look.")),
	)
}

func GetEventsHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calendarID, denied := calendarArg(request, allowed)
		if denied != nil {
			return denied, nil
		}
		maxResults := request.GetInt("max_results", defaultMaxResults)
		daysAhead := request.GetInt("days_ahead", defaultDaysAhead)

		timeMin, timeMax := calendar.Window(time.Now(), daysAhead)
		events, err := client.ListEvents(ctx, calendarID, timeMin, timeMax, int64(maxResults))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list events: %v", err)), nil
		}
		return JSONResult(calendar.FormatEvents(events)), nil
	}
}

func GetAllEventsTool() mcp.Tool {
	return mcp.NewTool(GetAllEventsName,
		mcp.WithDescription("RECOMMENDED: Get upcoming events from ALL user calendars at once. "+
			"Use this first to see the user's full schedule before making changes. "+
			"Each event includes the calendar it belongs to."),
		mcp.WithNumber("max_results_per_calendar", mcp.DefaultNumber(defaultMaxPerCalendar), mcp.Description("Maximum number of events to fetch per calendar.")),
		mcp.WithNumber("days_ahead", mcp.Description("Only return events within this many days. Omit for all upcoming events.")),
	)
}

func GetAllEventsHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		maxResults := request.GetInt("max_results_per_calendar", defaultMaxPerCalendar)

		now := time.Now()
		timeMin, timeMax := now.Format(time.RFC3339), ""
		if days := request.GetInt("days_ahead", 0); days > 0 {
			timeMin, timeMax = calendar.Window(now, days)
		}
		events, err := client.ListAllEvents(ctx, timeMin, timeMax, int64(maxResults))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list events: %v", err)), nil
		}
		events = lo.Filter(events, func(e calendar.Event, _ int) bool {
			return isCalendarAllowed(e.CalendarID, allowed)
		})
		return JSONResult(events), nil
	}
}

func SearchEventsTool() mcp.Tool {
	return mcp.NewTool(SearchEventsName,
		mcp.WithDescription("Search upcoming calendar events by keyword."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free text to match against event fields.")),
		mcp.WithNumber("max_results", mcp.DefaultNumber(defaultMaxResults), mcp.Description("Maximum number of events to return.")),
		mcp.WithString("calendar_id", mcp.DefaultString(calendar.PrimaryCalendar), mcp.Description("Calendar ID (default: 'primary').")),
	)
}

func SearchEventsHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		calendarID, denied := calendarArg(request, allowed)
		if denied != nil {
			return denied, nil
		}
		maxResults := request.GetInt("max_results", defaultMaxResults)

		events, err := client.SearchEvents(ctx, calendarID, query, int64(maxResults))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to search events: %v", err)), nil
		}
		return JSONResult(calendar.FormatEvents(events)), nil
	}
}

func CreateEventTool() mcp.Tool {
	return mcp.NewTool(CreateEventName,
		mcp.WithDescription("Create a new event in the user's Google Calendar."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Title of the event.")),
		mcp.WithString("start_datetime", mcp.Required(), mcp.Description("Event start time in ISO format (e.g., '2024-12-25T10:00:00Z' or '2024-12-25T10:00:00').")),
		mcp.WithString("end_datetime", mcp.Required(), mcp.Description("Event end time in ISO format (e.g., '2024-12-25T11:00:00Z' or '2024-12-25T11:00:00').")),
		mcp.WithString("description", mcp.Description("Description of the event.")),
		mcp.WithString("location", mcp.Description("Location of the event.")),
		mcp.WithString("timezone", mcp.DefaultString(defaultTimeZone), mcp.Description("IANA time zone used for times without an offset (default: UTC).")),
		mcp.WithString("calendar_id", mcp.DefaultString(calendar.PrimaryCalendar), mcp.Description("Calendar ID (default: 'primary').")),
	)
}

func CreateEventHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calendarID, denied := calendarArg(request, allowed)
		if denied != nil {
			return denied, nil
		}
		summary, err := request.RequireString("summary")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		startStr, err := request.RequireString("start_datetime")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		endStr, err := request.RequireString("end_datetime")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		tz := request.GetString("timezone", defaultTimeZone)

		start, err := calendar.ParseTime(startStr, tz)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid start_datetime: %v", err)), nil
		}
		end, err := calendar.ParseTime(endStr, tz)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid end_datetime: %v", err)), nil
		}
		if !end.After(start) {
			return mcp.NewToolResultError("end_datetime must be after start_datetime"), nil
		}

		event := calendar.NewEvent(summary,
			request.GetString("description", ""),
			request.GetString("location", ""),
			start, end, tz)

		created, err := client.CreateEvent(ctx, calendarID, event)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create event: %v", err)), nil
		}
		return JSONResult(calendar.FormatEvent(created)), nil
	}
}

func UpdateEventTool() mcp.Tool {
	return mcp.NewTool(UpdateEventName,
		mcp.WithDescription("Update an existing calendar event. Only provide fields you want to change."),
		mcp.WithString("event_id", mcp.Required(), mcp.Description("ID of the event to update.")),
		mcp.WithString("summary", mcp.Description("New title.")),
		mcp.WithString("start_datetime", mcp.Description("New start time in ISO format.")),
		mcp.WithString("end_datetime", mcp.Description("New end time in ISO format.")),
		mcp.WithString("description", mcp.Description("New description.")),
		mcp.WithString("location", mcp.Description("New location.")),
		mcp.WithString("timezone", mcp.Description("IANA time zone used for times without an offset (default: the event's own zone).")),
		mcp.WithString("calendar_id", mcp.DefaultString(calendar.PrimaryCalendar), mcp.Description("Calendar ID (default: 'primary').")),
	)
}

func UpdateEventHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventID, err := request.RequireString("event_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		calendarID, denied := calendarArg(request, allowed)
		if denied != nil {
			return denied, nil
		}

		args := request.GetArguments()
		changes := calendar.EventChanges{TimeZone: request.GetString("timezone", "")}
		for key, field := range map[string]**string{
			"summary":        &changes.Summary,
			"description":    &changes.Description,
			"location":       &changes.Location,
			"start_datetime": &changes.Start,
			"end_datetime":   &changes.End,
		} {
			v, ok := args[key].(string)
			if !ok || (v == "" && (key == "start_datetime" || key == "end_datetime")) {
				continue
			}
			*field = &v
		}
		if changes.Empty() {
			return mcp.NewToolResultError("no fields to update"), nil
		}

		updated, err := client.UpdateEvent(ctx, calendarID, eventID, changes)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to update event: %v", err)), nil
		}
		return JSONResult(calendar.FormatEvent(updated)), nil
	}
}

func DeleteEventTool() mcp.Tool {
	return mcp.NewTool(DeleteEventName,
		mcp.WithDescription("Delete a calendar event permanently. Use with caution - this cannot be undone."),
		mcp.WithString("event_id", mcp.Required(), mcp.Description("ID of the event to delete.")),
		mcp.WithString("calendar_id", mcp.DefaultString(calendar.PrimaryCalendar), mcp.Description("Calendar ID (default: 'primary').")),
	)
}

func DeleteEventHandler(client calendar.API, allowed []string) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventID, err := request.RequireString("event_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		calendarID, denied := calendarArg(request, allowed)
		if denied != nil {
			return denied, nil
		}

		if err := client.DeleteEvent(ctx, calendarID, eventID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to delete event: %v", err)), nil
		}
		return JSONResult(map[string]any{"success": true, "message": "Event deleted"}), nil
	}
}
