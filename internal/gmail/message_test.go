package gmail

import (
	"encoding/base64"
	"mime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
)

func TestEmailMessage_Validate(t *testing.T) {
	tests := []struct {
		name        string
		msg         *EmailMessage
		errContains string
	}{
		{name: "nil", msg: nil, errContains: "message is required"},
		{name: "no recipient", msg: &EmailMessage{Subject: "s", Body: "b"}, errContains: "recipient"},
		{name: "no subject", msg: &EmailMessage{To: []string{"a@example.com"}, Body: "b"}, errContains: "subject is required"},
		{name: "no body", msg: &EmailMessage{To: []string{"a@example.com"}, Subject: "s"}, errContains: "body is required"},
		{name: "valid", msg: &EmailMessage{To: []string{"a@example.com"}, Subject: "s", Body: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func decodeRaw(t *testing.T, m *EmailMessage) string {
	t.Helper()
	raw, err := base64.URLEncoding.DecodeString(m.Raw())
	require.NoError(t, err)
	return string(raw)
}

func TestEmailMessage_Raw(t *testing.T) {
	raw := decodeRaw(t, &EmailMessage{
		To:      []string{"a@example.com", "b@example.com"},
		Cc:      []string{"c@example.com"},
		Subject: "Status",
		Body:    "All good.",
	})

	headers, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "All good.", body)
	assert.Contains(t, headers, "To: a@example.com, b@example.com")
	assert.Contains(t, headers, "Cc: c@example.com")
	assert.NotContains(t, headers, "Bcc:")
	assert.Contains(t, headers, "Subject: Status")
	assert.Contains(t, headers, `Content-Type: text/plain; charset="UTF-8"`)
	assert.Contains(t, headers, "MIME-Version: 1.0")
}

func TestEmailMessage_RawHTMLSignature(t *testing.T) {
	raw := decodeRaw(t, &EmailMessage{
		To:        []string{"a@example.com"},
		Subject:   "Hi",
		Body:      "<p>Hi</p>",
		IsHTML:    true,
		Signature: "Jane",
	})
	assert.Contains(t, raw, `Content-Type: text/html; charset="UTF-8"`)
	assert.True(t, strings.HasSuffix(raw, "<p>Hi</p><br><br>-- <br>Jane"))
}

func TestEncodeRFC2047(t *testing.T) {
	assert.Equal(t, "Plain subject", encodeRFC2047("Plain subject"))

	encoded := encodeRFC2047("Grüße aus München")
	assert.True(t, strings.HasPrefix(encoded, "=?UTF-8?b?"))

	decoded, err := new(mime.WordDecoder).DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Grüße aus München", decoded)
}

func TestExtractBody(t *testing.T) {
	plain := base64.URLEncoding.EncodeToString([]byte("plain"))
	unpadded := base64.RawURLEncoding.EncodeToString([]byte("hi!!"))

	tests := []struct {
		name    string
		payload *gmail.MessagePart
		want    string
	}{
		{name: "nil payload", payload: nil, want: ""},
		{
			name:    "single part",
			payload: &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: plain}},
			want:    "plain",
		},
		{
			name: "nested multipart",
			payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: plain}},
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: plain}},
					},
				}},
			},
			want: "plain",
		},
		{
			name:    "unpadded data",
			payload: &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: unpadded}},
			want:    "hi!!",
		},
		{
			name:    "html only",
			payload: &gmail.MessagePart{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: plain}},
			want:    "",
		},
		{
			name:    "garbage",
			payload: &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "!!!"}},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractBody(tt.payload, "text/plain"))
		})
	}
}

func TestToMessage_MissingHeaders(t *testing.T) {
	m := toMessage(&gmail.Message{Id: "x", Payload: &gmail.MessagePart{}})
	assert.Equal(t, NoSubject, m.Subject)
	assert.Equal(t, UnknownSender, m.From)
	assert.Equal(t, UnknownDate, m.Date)
	assert.Empty(t, m.Body)
}

func TestHeaderValue(t *testing.T) {
	m := &gmail.Message{Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
		{Name: "subject", Value: "lower"},
	}}}
	assert.Equal(t, "lower", HeaderValue(m, "Subject"))
	assert.Empty(t, HeaderValue(m, "From"))
	assert.Empty(t, HeaderValue(nil, "From"))
}

func TestMessage_Preview(t *testing.T) {
	m := &Message{Body: "  Grüße, see you tomorrow  "}
	assert.Equal(t, "Grüße...", m.Preview(5))
	assert.Equal(t, "Grüße, see you tomorrow", m.Preview(100))
}
