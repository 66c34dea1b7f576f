// Package gmail provides the assistant's Gmail operations: reading the
// inbox, searching, and sending mail.
//
// A Client holds no token. Each API call declares the scopes it needs and
// acquires a session from the credential manager immediately before the
// request, so refreshes, scope upgrades and re-consent happen transparently.
// A 401 from Gmail invalidates the stored credentials and the call is
// retried once.
//
// Example usage:
//
//	client := gmail.NewClient(manager)
//
//	msgs, err := client.ListMessages(ctx, "in:inbox is:unread", 10)
//	if err != nil {
//	    return err
//	}
//
//	id, err := client.Send(ctx, &gmail.EmailMessage{
//	    To:      []string{"recipient@example.com"},
//	    Subject: "Hello",
//	    Body:    "This is a test email",
//	})
package gmail
