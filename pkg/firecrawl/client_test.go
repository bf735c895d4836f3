package firecrawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Scrape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))

		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/post", req.URL)
		assert.Equal(t, []string{"markdown"}, req.Formats)
		assert.True(t, req.OnlyMainContent)

		fmt.Fprint(w, `{"success": true, "data": {"markdown": "# Title\n\nBody"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(server.URL, "fc-key")
	require.NoError(t, err)

	md, err := client.Scrape(context.Background(), "https://example.com/post", true)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody", md)
}

func TestClient_Scrape_ContentFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.OnlyMainContent)
		fmt.Fprint(w, `{"success": true, "data": {"content": "plain text"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(server.URL+"/api", "fc-key")
	require.NoError(t, err)

	content, err := client.Scrape(context.Background(), "http://example.com", false)
	require.NoError(t, err)
	assert.Equal(t, "plain text", content)
}

func TestClient_Scrape_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/scrape", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"success": false, "error": "Insufficient credits"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(server.URL, "fc-key")
	require.NoError(t, err)

	_, err = client.Scrape(context.Background(), "https://example.com", true)
	var apiErr *ErrorResponse
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Insufficient credits", apiErr.Message)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
}

func TestClient_Scrape_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "fc-key")
	require.NoError(t, err)

	_, err = client.Scrape(context.Background(), "https://example.com", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 502")
}

func TestClient_Scrape_Validation(t *testing.T) {
	client, err := NewClient("", "")
	require.NoError(t, err)
	_, err = client.Scrape(context.Background(), "https://example.com", true)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	client, err = NewClient("", "fc-key")
	require.NoError(t, err)
	for _, u := range []string{"example.com", "ftp://example.com", "https://", ""} {
		_, err = client.Scrape(context.Background(), u, true)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestWithTimeout(t *testing.T) {
	shared := &http.Client{Timeout: time.Second}
	client, err := NewClient("", "fc-key", WithHTTPClient(shared), WithTimeout(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, time.Second, shared.Timeout)
	assert.Equal(t, 5*time.Second, client.http.Timeout)
	assert.NotSame(t, shared, client.http)

	client, err = NewClient("", "fc-key", WithHTTPClient(shared), WithTimeout(0))
	require.NoError(t, err)
	assert.Same(t, shared, client.http)
}
