package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/jarvis/internal/calendar"
)

const dateLayout = "2006-01-02"

var clockLayouts = []string{"15:04", "3:04pm", "3pm"}

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Read the calendar and create events",
	}

	cmd.AddCommand(newCalendarDayCmd())
	cmd.AddCommand(newCalendarCreateCmd())
	cmd.AddCommand(newCalendarFreeCmd())
	return cmd
}

func (a *app) calendarClient() *calendar.Client {
	return calendar.NewClient(a.manager, calendar.WithMetrics(a.provider.Metrics()))
}

func newCalendarDayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "day [today|tomorrow|YYYY-MM-DD]",
		Short: "List the events of a day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(firstArg(args), time.Now())
			if err != nil {
				return err
			}
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				events, err := a.calendarClient().EventsOn(ctx, day)
				if err != nil {
					return err
				}
				printEvents(cmd.OutOrStdout(), day, events)
				return nil
			})
		},
	}
}

func newCalendarCreateCmd() *cobra.Command {
	var (
		title, date, at   string
		duration          time.Duration
		location, details string
		attendees         string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Long: `Create an event in the primary calendar. Without --time the event lasts
the whole day. Timed events default to one hour.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := eventInput(title, date, at, duration, time.Now())
			if err != nil {
				return err
			}
			input.Location = location
			input.Description = details
			input.Attendees = parseCommaSeparatedList(attendees)

			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				created, err := a.calendarClient().CreateEvent(ctx, input)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %q on %s at %s (%s)\n",
					created.Summary, created.Start.Format("Monday, January 2"), created.TimeLabel(), created.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Event title")
	cmd.Flags().StringVarP(&date, "date", "d", "today", "Day of the event: today, tomorrow or YYYY-MM-DD")
	cmd.Flags().StringVar(&at, "time", "", "Start time, e.g. 14:30 or 2:30pm (omit for an all-day event)")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "Length of a timed event")
	cmd.Flags().StringVar(&location, "location", "", "Event location")
	cmd.Flags().StringVar(&details, "description", "", "Event description")
	cmd.Flags().StringVar(&attendees, "attendees", "", "Attendee emails (comma separated)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newCalendarFreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free [today|tomorrow|YYYY-MM-DD]",
		Short: "Check whether a day has no busy time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(firstArg(args), time.Now())
			if err != nil {
				return err
			}
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				free, busy, err := a.calendarClient().IsFree(ctx, day)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if free {
					_, _ = fmt.Fprintf(w, "%s is free.\n", day.Format("Monday, January 2"))
					return nil
				}
				_, _ = fmt.Fprintf(w, "%s is busy:\n", day.Format("Monday, January 2"))
				for _, b := range busy {
					_, _ = fmt.Fprintf(w, "  %s - %s\n", b.Start.Local().Format("03:04 PM"), b.End.Local().Format("03:04 PM"))
				}
				return nil
			})
		},
	}
}

// eventInput builds the event for the create command. An empty clock means
// an all-day event.
func eventInput(title, date, clock string, duration time.Duration, now time.Time) (calendar.EventInput, error) {
	if strings.TrimSpace(title) == "" {
		return calendar.EventInput{}, fmt.Errorf("event title is required")
	}
	day, err := parseDay(date, now)
	if err != nil {
		return calendar.EventInput{}, err
	}
	if clock == "" {
		return calendar.EventInput{Summary: title, Start: day, AllDay: true}, nil
	}
	if duration <= 0 {
		return calendar.EventInput{}, fmt.Errorf("duration must be positive, got %s", duration)
	}
	start, err := parseClock(day, clock)
	if err != nil {
		return calendar.EventInput{}, err
	}
	return calendar.EventInput{Summary: title, Start: start, End: start.Add(duration)}, nil
}

// parseDay resolves a day argument to local midnight.
func parseDay(s string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, use today, tomorrow or YYYY-MM-DD", s)
	}
	return day, nil
}

// parseClock places a wall clock time on day.
func parseClock(day time.Time, s string) (time.Time, error) {
	v := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use 14:30 or 2:30pm", s)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func printEvents(w io.Writer, day time.Time, events []calendar.EventSummary) {
	if len(events) == 0 {
		_, _ = fmt.Fprintf(w, "No events on %s.\n", day.Format("Monday, January 2"))
		return
	}
	_, _ = fmt.Fprintf(w, "%s:\n", day.Format("Monday, January 2"))
	for _, e := range events {
		line := fmt.Sprintf("  %-8s %s", e.TimeLabel(), e.Summary)
		if e.Location != "" {
			line += " @ " + e.Location
		}
		_, _ = fmt.Fprintln(w, line)
		if e.MeetLink != "" {
			_, _ = fmt.Fprintf(w, "           %s\n", e.MeetLink)
		}
	}
}
