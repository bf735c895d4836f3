package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	client, err := NewClient(context.Background(), nil, option.WithEndpoint(ts.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchMail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "in:inbox after:2025/03/01", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
		writeJSON(w, map[string]any{"messages": []map[string]string{
			{"id": "m1", "threadId": "t1"},
			{"id": "gone", "threadId": "t2"},
			{"id": "m2", "threadId": "t3"},
		}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		writeJSON(w, map[string]any{
			"id": "m1", "threadId": "t1", "snippet": "hi", "labelIds": []string{"INBOX", "UNREAD"},
			"payload": map[string]any{
				"mimeType": "text/plain",
				"headers": []map[string]string{
					{"name": "From", "value": "alice@example.com"},
					{"name": "subject", "value": "Lunch"},
				},
				"body": map[string]string{"data": b64("see you at noon")},
			},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/m2", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": "m2", "threadId": "t3", "payload": map[string]any{}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	client := newTestClient(t, mux)

	emails, err := client.FetchMail(context.Background(), "", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 5)
	require.NoError(t, err)
	require.Len(t, emails, 2)

	assert.Equal(t, 1, emails[0].Number)
	assert.Equal(t, "m1", emails[0].ID)
	assert.Equal(t, "alice@example.com", emails[0].Sender)
	assert.Equal(t, "Lunch", emails[0].Subject)
	assert.Equal(t, "see you at noon", emails[0].Body)
	assert.True(t, emails[0].IsUnread)

	assert.Equal(t, 2, emails[1].Number)
	assert.Equal(t, "m2", emails[1].ID)
	assert.False(t, emails[1].IsUnread)
	assert.Equal(t, []string{}, emails[1].Labels)
}

func TestFetchMail_ListFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	client := newTestClient(t, mux)

	_, err := client.FetchMail(context.Background(), "is:unread", time.Time{}, 0)
	assert.ErrorIs(t, err, ErrListMessages)
}

type queryRecorder struct {
	API
	query string
	max   int64
}

func (q *queryRecorder) FetchMail(_ context.Context, query string, _ time.Time, maxResults int64) ([]Email, error) {
	q.query = query
	q.max = maxResults
	return nil, nil
}

func TestQueryHelpers(t *testing.T) {
	ctx := context.Background()
	rec := &queryRecorder{}

	_, _ = Unread(ctx, rec, 3)
	assert.Equal(t, "is:unread", rec.query)
	assert.Equal(t, int64(3), rec.max)

	_, _ = FromSender(ctx, rec, "bob@example.com", 10)
	assert.Equal(t, "from:bob@example.com", rec.query)

	_, _ = Search(ctx, rec, "invoice", 10)
	assert.Equal(t, "subject:invoice OR body:invoice", rec.query)
}

func TestMarkAsRead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req gmail.ModifyMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"UNREAD"}, req.RemoveLabelIds)
		writeJSON(w, map[string]string{"id": "m1"})
	})
	client := newTestClient(t, mux)

	require.NoError(t, client.MarkAsRead(context.Background(), "m1"))
	assert.ErrorIs(t, client.MarkAsRead(context.Background(), "other"), ErrModifyMessage)
}

func TestSendEmail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var msg gmail.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "To: bob@example.com\r\n")
		assert.Contains(t, string(raw), "Subject: Hello\r\n")
		writeJSON(w, map[string]string{"id": "sent1", "threadId": "t9"})
	})
	client := newTestClient(t, mux)

	sent, err := client.SendEmail(context.Background(), "bob@example.com", "Hello", "Body text")
	require.NoError(t, err)
	assert.Equal(t, "sent1", sent.Id)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(" bob@example.com ", "Multi\nline", "héllo")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	require.NoError(t, err)
	head, body, found := strings.Cut(string(raw), "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "To: bob@example.com")
	assert.Contains(t, head, "Subject: Multi line")
	assert.Contains(t, head, "MIME-Version: 1.0")

	decoded, err := base64.StdEncoding.DecodeString(body)
	require.NoError(t, err)
	assert.Equal(t, "héllo", string(decoded))

	for _, bad := range []string{"", "not-an-address", "a@b.c\r\nBcc: x@y.z"} {
		_, err := NewMessage(bad, "s", "b")
		assert.ErrorIs(t, err, ErrInvalidRecipient, bad)
	}
}

func TestBody(t *testing.T) {
	tests := []struct {
		name    string
		payload *gmail.MessagePart
		want    string
	}{
		{name: "nil", payload: nil, want: ""},
		{
			name: "plain preferred over html",
			payload: &gmail.MessagePart{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("plain")}},
			}},
			want: "plain",
		},
		{
			name: "nested plain",
			payload: &gmail.MessagePart{MimeType: "multipart/mixed", Parts: []*gmail.MessagePart{
				{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("deep")}},
				}},
			}},
			want: "deep",
		},
		{
			name:    "unpadded base64",
			payload: &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("ab"))}},
			want:    "ab",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Body(tt.payload))
		})
	}
}

func TestBody_HTMLFallback(t *testing.T) {
	payload := &gmail.MessagePart{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
		{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>Hello <b>there</b></p>")}},
	}}

	body := Body(payload)
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, "there")
	assert.NotContains(t, body, "<p>")
}

func TestHeader(t *testing.T) {
	headers := []*gmail.MessagePartHeader{{Name: "DATE", Value: "today"}}
	assert.Equal(t, "today", Header(headers, "Date"))
	assert.Equal(t, "", Header(headers, "From"))
	assert.Equal(t, "", Header(nil, "From"))
}

func ExampleNewMessage() {
	msg, _ := NewMessage("bob@example.com", "Hi", "")
	raw, _ := base64.URLEncoding.DecodeString(msg.Raw)
	fmt.Println(strings.SplitN(string(raw), "\r\n", 2)[0])
	// Output: To: bob@example.com
}
