// Package calendar provides the assistant's Google Calendar operations:
// reading a day, creating events and checking availability.
//
// Reads request calendar.readonly, event creation requests calendar.events.
// Credentials are acquired from the credential manager before every
// request, so a Client can be kept for the lifetime of the process.
//
// Example usage:
//
//	client := calendar.NewClient(manager)
//
//	events, err := client.EventsOn(ctx, time.Now())
//	if err != nil {
//	    return err
//	}
//
//	free, busy, err := client.IsFree(ctx, time.Now().AddDate(0, 0, 1))
package calendar
