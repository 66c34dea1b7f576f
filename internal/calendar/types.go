package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

const dateLayout = "2006-01-02"

// EventInput represents the input for creating a calendar event
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time // defaults to one hour after Start, or one day for all-day events
	AllDay      bool
	TimeZone    string // IANA name; defaults to Start's location
	Attendees   []string
}

// EventSummary represents a simplified calendar event for listing
type EventSummary struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Organizer   string
	Status      string
	Attendees   []AttendeeInfo
	MeetLink    string
}

// TimeLabel renders the start as the assistant speaks it.
func (e EventSummary) TimeLabel() string {
	if e.AllDay {
		return "All day"
	}
	return e.Start.Format("03:04 PM")
}

// AttendeeInfo represents information about an event attendee
type AttendeeInfo struct {
	Email          string
	DisplayName    string
	ResponseStatus string // "needsAction", "declined", "tentative", "accepted"
	Optional       bool
}

// TimeRange represents a time range
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// DayBounds returns midnight of day in day's location and midnight of the
// following day.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

func parseEventTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t.In(loc), false
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	return time.Time{}, false
}

// toEventSummary converts a Google Calendar event to an EventSummary with
// times in loc.
func toEventSummary(event *calendar.Event, loc *time.Location) EventSummary {
	if event == nil {
		return EventSummary{}
	}
	summary := EventSummary{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Status:      event.Status,
	}
	summary.Start, summary.AllDay = parseEventTime(event.Start, loc)
	summary.End, _ = parseEventTime(event.End, loc)

	if event.Organizer != nil {
		summary.Organizer = event.Organizer.Email
	}
	for _, att := range event.Attendees {
		summary.Attendees = append(summary.Attendees, AttendeeInfo{
			Email:          att.Email,
			DisplayName:    att.DisplayName,
			ResponseStatus: att.ResponseStatus,
			Optional:       att.Optional,
		})
	}
	if event.ConferenceData != nil {
		for _, ep := range event.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				summary.MeetLink = ep.Uri
				break
			}
		}
	}
	return summary
}

// toEvent builds the API event for input. Start must be set.
func toEvent(input EventInput) *calendar.Event {
	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
	}

	if input.AllDay {
		end := input.End
		if !end.After(input.Start) {
			end = input.Start.AddDate(0, 0, 1)
		}
		event.Start = &calendar.EventDateTime{Date: input.Start.Format(dateLayout)}
		event.End = &calendar.EventDateTime{Date: end.Format(dateLayout)}
	} else {
		end := input.End
		if end.IsZero() {
			end = input.Start.Add(time.Hour)
		}
		tz := input.TimeZone
		if tz == "" {
			tz = input.Start.Location().String()
		}
		if tz == "Local" {
			// The offset in DateTime is authoritative; the API rejects "Local".
			tz = ""
		}
		event.Start = &calendar.EventDateTime{DateTime: input.Start.Format(time.RFC3339), TimeZone: tz}
		event.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz}
	}

	for _, email := range input.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}
	return event
}
