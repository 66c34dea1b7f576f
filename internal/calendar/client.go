package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/jarvis/internal/google"
	"github.com/teemow/jarvis/internal/instrumentation"
)

// PrimaryCalendar is the calendar id of the user's main calendar.
const PrimaryCalendar = "primary"

const (
	defaultRateLimit = rate.Limit(5)
	defaultBurst     = 10
)

var (
	readScopes  = google.NewScopeSet(google.ScopeCalendarReadonly)
	writeScopes = google.NewScopeSet(google.ScopeCalendarEvents)
)

// Client wraps the Calendar service for one calendar. Credentials are
// acquired per call.
type Client struct {
	runner     *google.APIRunner
	endpoint   string
	calendarID string
	loc        *time.Location
}

type options struct {
	endpoint   string
	calendarID string
	loc        *time.Location
	limit      rate.Limit
	burst      int
	metrics    *instrumentation.Metrics
	callOpts   []google.CallOption
}

// Option configures a Client.
type Option func(*options)

// WithEndpoint overrides the Calendar API base URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithCalendarID selects a calendar other than the primary one.
func WithCalendarID(id string) Option {
	return func(o *options) { o.calendarID = id }
}

// WithLocation sets the zone returned event times are converted to.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithRateLimit sets the request rate. A zero limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.limit = limit
		o.burst = burst
	}
}

// WithMetrics records Google API metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCallOptions passes retry options to every call.
func WithCallOptions(opts ...google.CallOption) Option {
	return func(o *options) { o.callOpts = append(o.callOpts, opts...) }
}

// NewClient creates a Calendar client that authorizes through creds.
func NewClient(creds google.Acquirer, opts ...Option) *Client {
	o := &options{
		calendarID: PrimaryCalendar,
		loc:        time.Local,
		limit:      defaultRateLimit,
		burst:      defaultBurst,
	}
	for _, opt := range opts {
		opt(o)
	}
	var limiter *rate.Limiter
	if o.limit > 0 {
		limiter = rate.NewLimiter(o.limit, o.burst)
	}
	return &Client{
		runner:     google.NewAPIRunner(instrumentation.ServiceCalendar, creds, limiter, o.metrics, o.callOpts...),
		endpoint:   o.endpoint,
		calendarID: o.calendarID,
		loc:        o.loc,
	}
}

func (c *Client) service(ctx context.Context, hc *http.Client) (*calendar.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// ListEvents lists events within a time range, recurring events expanded
// and ordered by start time.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time, query string) ([]EventSummary, error) {
	if !timeMax.After(timeMin) {
		return nil, fmt.Errorf("invalid time range: %s to %s", timeMin.Format(time.RFC3339), timeMax.Format(time.RFC3339))
	}

	items, err := google.RunAPI(ctx, c.runner, instrumentation.OperationList, readScopes, func(ctx context.Context, hc *http.Client) ([]*calendar.Event, error) {
		svc, err := c.service(ctx, hc)
		if err != nil {
			return nil, err
		}
		call := svc.Events.List(c.calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
		if query != "" {
			call = call.Q(query)
		}
		events, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		return events.Items, nil
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]EventSummary, 0, len(items))
	for _, event := range items {
		summaries = append(summaries, toEventSummary(event, c.loc))
	}
	return summaries, nil
}

// EventsOn lists the events of the calendar day containing day.
func (c *Client) EventsOn(ctx context.Context, day time.Time) ([]EventSummary, error) {
	start, end := DayBounds(day.In(c.loc))
	return c.ListEvents(ctx, start, end, "")
}

// CreateEvent creates an event. Without an end time a timed event lasts
// one hour and an all-day event one day.
func (c *Client) CreateEvent(ctx context.Context, input EventInput) (*EventSummary, error) {
	if input.Summary == "" {
		return nil, fmt.Errorf("event summary is required")
	}
	if input.Start.IsZero() {
		return nil, fmt.Errorf("event start is required")
	}
	if !input.AllDay && !input.End.IsZero() && !input.End.After(input.Start) {
		return nil, fmt.Errorf("event end must be after start")
	}
	event := toEvent(input)

	return google.RunAPI(ctx, c.runner, instrumentation.OperationCreate, writeScopes, func(ctx context.Context, hc *http.Client) (*EventSummary, error) {
		svc, err := c.service(ctx, hc)
		if err != nil {
			return nil, err
		}
		created, err := svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to create event: %w", err)
		}
		summary := toEventSummary(created, c.loc)
		return &summary, nil
	})
}

// QueryFreeBusy returns the busy ranges of the calendar between timeMin
// and timeMax.
func (c *Client) QueryFreeBusy(ctx context.Context, timeMin, timeMax time.Time) ([]TimeRange, error) {
	if !timeMax.After(timeMin) {
		return nil, fmt.Errorf("invalid time range: %s to %s", timeMin.Format(time.RFC3339), timeMax.Format(time.RFC3339))
	}
	query := &calendar.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
	}

	return google.RunAPI(ctx, c.runner, instrumentation.OperationFreeBusy, readScopes, func(ctx context.Context, hc *http.Client) ([]TimeRange, error) {
		svc, err := c.service(ctx, hc)
		if err != nil {
			return nil, err
		}
		result, err := svc.Freebusy.Query(query).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to query freebusy: %w", err)
		}
		cal, ok := result.Calendars[c.calendarID]
		if !ok {
			return nil, fmt.Errorf("freebusy response has no entry for calendar %s", c.calendarID)
		}
		if len(cal.Errors) > 0 {
			return nil, fmt.Errorf("freebusy for calendar %s failed: %s", c.calendarID, cal.Errors[0].Reason)
		}

		busy := make([]TimeRange, 0, len(cal.Busy))
		for _, b := range cal.Busy {
			start, err := time.Parse(time.RFC3339, b.Start)
			if err != nil {
				return nil, fmt.Errorf("invalid busy start %q: %w", b.Start, err)
			}
			end, err := time.Parse(time.RFC3339, b.End)
			if err != nil {
				return nil, fmt.Errorf("invalid busy end %q: %w", b.End, err)
			}
			busy = append(busy, TimeRange{Start: start.In(c.loc), End: end.In(c.loc)})
		}
		return busy, nil
	})
}

// IsFree reports whether the calendar day containing day has no busy time,
// along with the busy ranges found.
func (c *Client) IsFree(ctx context.Context, day time.Time) (bool, []TimeRange, error) {
	start, end := DayBounds(day.In(c.loc))
	busy, err := c.QueryFreeBusy(ctx, start, end)
	if err != nil {
		return false, nil, err
	}
	return len(busy) == 0, busy, nil
}
