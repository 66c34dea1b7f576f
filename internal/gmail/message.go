package gmail

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// Message is a summary of a Gmail message as presented to the assistant.
type Message struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId,omitempty"`
	From     string   `json:"from"`
	To       string   `json:"to,omitempty"`
	Subject  string   `json:"subject"`
	Date     string   `json:"date"`
	Snippet  string   `json:"snippet,omitempty"`
	Body     string   `json:"body,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Fallback values for missing headers.
const (
	NoSubject     = "No Subject"
	UnknownSender = "Unknown Sender"
	UnknownDate   = "Unknown Date"
)

// Preview returns at most n runes of the body followed by "..." when cut.
func (m *Message) Preview(n int) string {
	r := []rune(strings.TrimSpace(m.Body))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

// HeaderValue extracts a header value from a Gmail message
func HeaderValue(m *gmail.Message, header string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

func headerOr(m *gmail.Message, header, fallback string) string {
	if v := HeaderValue(m, header); v != "" {
		return v
	}
	return fallback
}

// toMessage converts an API message. The body is only populated for
// messages fetched in full format.
func toMessage(m *gmail.Message) *Message {
	return &Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		From:     headerOr(m, "From", UnknownSender),
		To:       HeaderValue(m, "To"),
		Subject:  headerOr(m, "Subject", NoSubject),
		Date:     headerOr(m, "Date", UnknownDate),
		Snippet:  m.Snippet,
		Body:     extractBody(m.Payload, "text/plain"),
		Labels:   m.LabelIds,
	}
}

// extractBody returns the first part of the given MIME type, decoded.
// Undecodable data yields an empty body.
func extractBody(payload *gmail.MessagePart, mimeType string) string {
	var data string
	walkParts(payload, func(part *gmail.MessagePart) {
		if data == "" && part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			data = part.Body.Data
		}
	})
	if data == "" {
		return ""
	}
	body, err := decodeBody(data)
	if err != nil {
		return ""
	}
	return body
}

// decodeBody decodes base64url body data, accepting padded, unpadded and
// standard encodings.
func decodeBody(data string) (string, error) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("failed to decode message body")
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}

// EmailMessage is an outgoing email.
type EmailMessage struct {
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	Body      string
	IsHTML    bool
	Signature string // appended below a "-- " separator when set
}

// Validate checks the fields required to send.
func (m *EmailMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("message is required")
	}
	if len(m.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if m.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if m.Body == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// Raw renders the message in RFC 2822 format, base64url encoded as the
// Gmail API expects.
func (m *EmailMessage) Raw() string {
	var b strings.Builder

	writeHeader(&b, "To", strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		writeHeader(&b, "Cc", strings.Join(m.Cc, ", "))
	}
	if len(m.Bcc) > 0 {
		writeHeader(&b, "Bcc", strings.Join(m.Bcc, ", "))
	}
	writeHeader(&b, "Subject", encodeRFC2047(m.Subject))
	if m.IsHTML {
		writeHeader(&b, "Content-Type", `text/html; charset="UTF-8"`)
	} else {
		writeHeader(&b, "Content-Type", `text/plain; charset="UTF-8"`)
	}
	writeHeader(&b, "MIME-Version", "1.0")
	b.WriteString("\r\n")
	b.WriteString(appendSignature(m.Body, m.Signature, m.IsHTML))

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func appendSignature(body, signature string, isHTML bool) string {
	if signature == "" {
		return body
	}
	if isHTML {
		return body + "<br><br>-- <br>" + signature
	}
	return body + "\n\n-- \n" + signature
}

// encodeRFC2047 encodes non-ASCII header values (umlauts in subjects).
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
