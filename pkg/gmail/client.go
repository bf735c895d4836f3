package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

var (
	// ErrClientRetrieve is returned when the Gmail client cannot be retrieved.
	ErrClientRetrieve = errors.New("unable to retrieve Gmail client")
	// ErrListMessages is returned when messages cannot be listed.
	ErrListMessages = errors.New("unable to list messages")
	// ErrGetMessage is returned when a message cannot be fetched.
	ErrGetMessage = errors.New("unable to get message")
	// ErrModifyMessage is returned when labels cannot be changed.
	ErrModifyMessage = errors.New("unable to modify message")
	// ErrSendMessage is returned when a message cannot be sent.
	ErrSendMessage = errors.New("unable to send message")
	// ErrInvalidRecipient is returned when the recipient address is empty or malformed.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

const (
	user = "me"

	// DefaultQuery is used by FetchMail when no query is given.
	DefaultQuery = "in:inbox"
	// DefaultMaxResults is used when max is not positive.
	DefaultMaxResults = 10

	labelUnread = "UNREAD"

	maxConcurrentFetches = 5
)

// Email is the flattened view of a message handed to the model.
type Email struct {
	Number   int      `json:"email_number"`
	ID       string   `json:"id"`
	ThreadID string   `json:"thread_id"`
	Sender   string   `json:"sender"`
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Date     string   `json:"date"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels"`
	IsUnread bool     `json:"is_unread"`
}

// Client is a wrapper around the Gmail API service.
type Client struct {
	Service *gmail.Service
}

// API defines the interface for interacting with Gmail.
// This allows for mocking in tests.
type API interface {
	SearchMessages(ctx context.Context, query string, maxResults int64) ([]*gmail.Message, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
	FetchMail(ctx context.Context, query string, after time.Time, maxResults int64) ([]Email, error)
	MarkAsRead(ctx context.Context, id string) error
	SendEmail(ctx context.Context, to, subject, body string) (*gmail.Message, error)
}

var _ API = (*Client)(nil)

// NewClient creates a Gmail client authenticated by httpClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClientRetrieve, err)
	}
	return &Client{Service: srv}, nil
}

// SearchMessages searches for messages matching the query.
// Only ids and thread ids are populated.
func (c *Client) SearchMessages(ctx context.Context, query string, maxResults int64) ([]*gmail.Message, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	r, err := c.Service.Users.Messages.List(user).Q(query).MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListMessages, err)
	}
	return r.Messages, nil
}

// GetMessage retrieves the details of a specific message.
func (c *Client) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	msg, err := c.Service.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetMessage, err)
	}
	return msg, nil
}

// FetchMail lists messages matching query and fetches each of them in full.
// A zero after disables the date filter. Messages that cannot be fetched are
// skipped.
func (c *Client) FetchMail(ctx context.Context, query string, after time.Time, maxResults int64) ([]Email, error) {
	if query == "" {
		query = DefaultQuery
	}
	if !after.IsZero() {
		query = fmt.Sprintf("%s after:%s", query, after.Format("2006/01/02"))
	}

	refs, err := c.SearchMessages(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	fetched := make([]*Email, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, ref := range refs {
		g.Go(func() error {
			msg, err := c.GetMessage(gctx, ref.Id)
			if err != nil {
				logger.Warn().Err(err).Str("message_id", ref.Id).Msg("skipping message")
				return nil
			}
			email := ToEmail(msg)
			fetched[i] = &email
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	emails := make([]Email, 0, len(fetched))
	for _, e := range fetched {
		if e == nil {
			continue
		}
		e.Number = len(emails) + 1
		emails = append(emails, *e)
	}
	return emails, nil
}

// Unread fetches unread messages.
func Unread(ctx context.Context, api API, maxResults int64) ([]Email, error) {
	return api.FetchMail(ctx, "is:unread", time.Time{}, maxResults)
}

// FromSender fetches messages sent by sender.
func FromSender(ctx context.Context, api API, sender string, maxResults int64) ([]Email, error) {
	return api.FetchMail(ctx, "from:"+sender, time.Time{}, maxResults)
}

// Search fetches messages whose subject or body mention term.
func Search(ctx context.Context, api API, term string, maxResults int64) ([]Email, error) {
	return api.FetchMail(ctx, fmt.Sprintf("subject:%s OR body:%s", term, term), time.Time{}, maxResults)
}

// MarkAsRead removes the UNREAD label.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if _, err := c.Service.Users.Messages.Modify(user, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: %w", ErrModifyMessage, err)
	}
	return nil
}

// SendEmail sends a plain text message from the authenticated account.
func (c *Client) SendEmail(ctx context.Context, to, subject, body string) (*gmail.Message, error) {
	msg, err := NewMessage(to, subject, body)
	if err != nil {
		return nil, err
	}
	sent, err := c.Service.Users.Messages.Send(user, msg).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendMessage, err)
	}
	return sent, nil
}

// NewMessage builds a raw RFC 822 message. The sender is filled in by Gmail.
func NewMessage(to, subject, body string) (*gmail.Message, error) {
	to = strings.TrimSpace(to)
	if to == "" || !strings.Contains(to, "@") || strings.ContainsAny(to, "\r\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)

	var b strings.Builder
	headers := [][2]string{
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="utf-8"`},
		{"Content-Transfer-Encoding", "base64"},
	}
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(body)))

	return &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(b.String()))}, nil
}

// ToEmail flattens a full message.
func ToEmail(msg *gmail.Message) Email {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}
	labels := msg.LabelIds
	if labels == nil {
		labels = []string{}
	}
	return Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Sender:   Header(headers, "From"),
		To:       Header(headers, "To"),
		Subject:  Header(headers, "Subject"),
		Date:     Header(headers, "Date"),
		Snippet:  msg.Snippet,
		Body:     Body(msg.Payload),
		Labels:   labels,
		IsUnread: lo.Contains(labels, labelUnread),
	}
}

// Header returns the value of the named header, ignoring case.
func Header(headers []*gmail.MessagePartHeader, name string) string {
	h, ok := lo.Find(headers, func(h *gmail.MessagePartHeader) bool {
		return strings.EqualFold(h.Name, name)
	})
	if !ok {
		return ""
	}
	return h.Value
}

// Body extracts the readable text of a message. text/plain wins over
// text/html anywhere in the tree; html is converted to text.
func Body(p *gmail.MessagePart) string {
	if text := findPart(p, "text/plain"); text != "" {
		return text
	}
	html := findPart(p, "text/html")
	if html == "" {
		return ""
	}
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return html
	}
	return text
}

func findPart(p *gmail.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		if data, err := decode(p.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, part := range p.Parts {
		if body := findPart(part, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// decode accepts padded and unpadded URL-safe base64.
func decode(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
