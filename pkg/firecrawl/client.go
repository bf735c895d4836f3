// Package firecrawl is a minimal client for the Firecrawl scraping API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted Firecrawl API.
const DefaultBaseURL = "https://api.firecrawl.dev/"

var (
	// ErrMissingAPIKey is returned when the client has no API key.
	ErrMissingAPIKey = errors.New("FIRECRAWL_API_KEY not set")
	// ErrInvalidURL is returned for URLs that are not http or https.
	ErrInvalidURL = errors.New("URL must start with http:// or https://")
)

// Client talks to the Firecrawl REST API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// NewClient creates a new Firecrawl client. An empty baseURL selects the
// hosted API.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: u,
		token:   token,
		http: &http.Client{
			Timeout: 60 * time.Second, //nolint:mnd
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithHTTPClient allows providing a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithTimeout sets the request timeout. A client given to WithHTTPClient
// is copied rather than modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// ScrapeRequest is the body of POST /v1/scrape.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

// ScrapeResponse is the envelope returned by POST /v1/scrape.
type ScrapeResponse struct {
	Success bool       `json:"success"`
	Data    ScrapeData `json:"data"`
}

// ScrapeData holds the scraped document.
type ScrapeData struct {
	Markdown string         `json:"markdown"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorResponse represents an error returned by the API.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("firecrawl: %s (status %d)", e.Message, e.StatusCode)
}

// Scrape fetches url and returns its content as markdown. The plain content
// is returned when the API produced no markdown.
func (c *Client) Scrape(ctx context.Context, rawURL string, onlyMainContent bool) (string, error) {
	if c.token == "" {
		return "", ErrMissingAPIKey
	}
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}

	body, err := json.Marshal(ScrapeRequest{
		URL:             rawURL,
		Formats:         []string{"markdown"},
		OnlyMainContent: onlyMainContent,
	})
	if err != nil {
		return "", err
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: "v1/scrape"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp ScrapeResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Data.Markdown != "" {
		return resp.Data.Markdown, nil
	}
	return resp.Data.Content, nil
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

func (c *Client) do(req *http.Request, v any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			return &errResp
		}
		return fmt.Errorf("API error: status code %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
