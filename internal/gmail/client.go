package gmail

import (
	"context"
	"fmt"
	"net/http"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"golang.org/x/time/rate"

	"github.com/teemow/jarvis/internal/google"
	"github.com/teemow/jarvis/internal/instrumentation"
)

// Defaults for listing messages.
const (
	DefaultQuery      = "in:inbox"
	DefaultMaxResults = 10
)

// Gmail allows 250 quota units per user per second; a full message get
// costs 5.
const (
	defaultRateLimit = rate.Limit(2)
	defaultBurst     = 5
)

var (
	readScopes = google.NewScopeSet(google.ScopeGmailReadonly)
	sendScopes = google.NewScopeSet(google.ScopeGmailSend)
)

// Client wraps the Gmail Users service. Every call acquires credentials
// from the credential manager, so a Client is safe for concurrent use and
// never holds a token itself.
type Client struct {
	runner   *google.APIRunner
	endpoint string
}

type options struct {
	endpoint string
	limit    rate.Limit
	burst    int
	metrics  *instrumentation.Metrics
	callOpts []google.CallOption
}

// Option configures a Client.
type Option func(*options)

// WithEndpoint overrides the Gmail API base URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
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

// NewClient creates a Gmail client that authorizes through creds.
func NewClient(creds google.Acquirer, opts ...Option) *Client {
	o := &options{limit: defaultRateLimit, burst: defaultBurst}
	for _, opt := range opts {
		opt(o)
	}
	var limiter *rate.Limiter
	if o.limit > 0 {
		limiter = rate.NewLimiter(o.limit, o.burst)
	}
	return &Client{
		runner:   google.NewAPIRunner(instrumentation.ServiceGmail, creds, limiter, o.metrics, o.callOpts...),
		endpoint: o.endpoint,
	}
}

func (c *Client) users(ctx context.Context, hc *http.Client) (*gmail.UsersService, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc.Users, nil
}

// ListMessages returns up to max messages matching query with their plain
// text bodies. An empty query lists the inbox.
func (c *Client) ListMessages(ctx context.Context, query string, max int64) ([]*Message, error) {
	return c.list(ctx, query, max, "full", instrumentation.OperationList)
}

// Search returns up to max messages matching query with headers only.
func (c *Client) Search(ctx context.Context, query string, max int64) ([]*Message, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	return c.list(ctx, query, max, "metadata", instrumentation.OperationSearch)
}

func (c *Client) list(ctx context.Context, query string, max int64, format, operation string) ([]*Message, error) {
	if query == "" {
		query = DefaultQuery
	}
	if max <= 0 {
		max = DefaultMaxResults
	}

	refs, err := google.RunAPI(ctx, c.runner, operation, readScopes, func(ctx context.Context, hc *http.Client) ([]*gmail.Message, error) {
		users, err := c.users(ctx, hc)
		if err != nil {
			return nil, err
		}
		res, err := users.Messages.List("me").Q(query).MaxResults(max).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		return res.Messages, nil
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]*Message, 0, len(refs))
	for _, ref := range refs {
		m, err := c.get(ctx, ref.Id, format)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// GetMessage retrieves a single message in full.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}
	m, err := c.get(ctx, id, "full")
	if err != nil {
		return nil, err
	}
	return toMessage(m), nil
}

func (c *Client) get(ctx context.Context, id, format string) (*gmail.Message, error) {
	return google.RunAPI(ctx, c.runner, instrumentation.OperationGet, readScopes, func(ctx context.Context, hc *http.Client) (*gmail.Message, error) {
		users, err := c.users(ctx, hc)
		if err != nil {
			return nil, err
		}
		m, err := users.Messages.Get("me", id).Format(format).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", id, err)
		}
		return m, nil
	})
}

// Send sends msg and returns the new message id. Only the send scope is
// requested.
func (c *Client) Send(ctx context.Context, msg *EmailMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	raw := msg.Raw()

	return google.RunAPI(ctx, c.runner, instrumentation.OperationSend, sendScopes, func(ctx context.Context, hc *http.Client) (string, error) {
		users, err := c.users(ctx, hc)
		if err != nil {
			return "", err
		}
		sent, err := users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to send email: %w", err)
		}
		return sent.Id, nil
	})
}

// Signature returns the signature of the primary send-as address, or ""
// when none is configured.
func (c *Client) Signature(ctx context.Context) (string, error) {
	return google.RunAPI(ctx, c.runner, instrumentation.OperationGet, readScopes, func(ctx context.Context, hc *http.Client) (string, error) {
		users, err := c.users(ctx, hc)
		if err != nil {
			return "", err
		}
		res, err := users.Settings.SendAs.List("me").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to get signature: %w", err)
		}
		for _, sa := range res.SendAs {
			if sa.IsPrimary {
				return sa.Signature, nil
			}
		}
		return "", nil
	})
}

// Profile returns the authenticated user's mailbox profile.
func (c *Client) Profile(ctx context.Context) (*gmail.Profile, error) {
	return google.RunAPI(ctx, c.runner, instrumentation.OperationGet, readScopes, func(ctx context.Context, hc *http.Client) (*gmail.Profile, error) {
		users, err := c.users(ctx, hc)
		if err != nil {
			return nil, err
		}
		p, err := users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		return p, nil
	})
}
