package googleapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/bttk/calendar-assistant/pkg/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

var (
	// ErrReadSecret is returned when the client secret file cannot be read.
	ErrReadSecret = errors.New("unable to read client secret file")
	// ErrParseConfig is returned when the client secret file cannot be parsed.
	ErrParseConfig = errors.New("unable to parse client secret file to config")
	// ErrNoClient is returned when neither a secret file nor a client id is configured.
	ErrNoClient = errors.New("no google oauth client configured")
)

// Scopes requested for every user. If these change, users must reconnect.
var Scopes = []string{
	calendar.CalendarScope,
	gmail.GmailReadonlyScope,
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// Config builds the OAuth2 client configuration. A credentials file takes
// precedence over an explicit client id and secret.
func Config(credentialsFile, clientID, clientSecret string) (*oauth2.Config, error) {
	if credentialsFile != "" {
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadSecret, err)
		}
		return ConfigFromJSON(b)
	}
	if clientID == "" || clientSecret == "" {
		return nil, ErrNoClient
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}, nil
}

// ConfigFromJSON parses a Google client secret file.
func ConfigFromJSON(credentialsJSON []byte) (*oauth2.Config, error) {
	cfg, err := google.ConfigFromJSON(credentialsJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseConfig, err)
	}
	return cfg, nil
}

// Token converts a stored user token to an oauth2 token.
func Token(t model.UserToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiryDate.Time,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	return tok
}

// UserToken converts an oauth2 token back to the stored form. The scope is
// taken from the token's extra fields when present, otherwise from fallback.
func UserToken(tok *oauth2.Token, fallbackScope string) model.UserToken {
	scope := fallbackScope
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		scope = s
	}
	return model.UserToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
		TokenType:    tok.TokenType,
		ExpiryDate:   model.ExpiryDate{Time: tok.Expiry},
	}
}

// RefreshFunc is called with a token whenever it differs from the last one seen.
type RefreshFunc func(*oauth2.Token)

// notifyingSource wraps a token source and reports refreshed tokens.
type notifyingSource struct {
	src       oauth2.TokenSource
	onRefresh RefreshFunc

	mu   sync.Mutex
	last string
}

func (s *notifyingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if changed && s.onRefresh != nil {
		s.onRefresh(tok)
	}
	return tok, nil
}

// TokenSource returns a reusable token source for tok. onRefresh is invoked
// after Google issues a new access token.
func TokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, onRefresh RefreshFunc) oauth2.TokenSource {
	// A refresh token is sometimes omitted on refresh responses; keep the old one.
	refreshToken := tok.RefreshToken
	src := &notifyingSource{
		src:  cfg.TokenSource(ctx, tok),
		last: tok.AccessToken,
		onRefresh: func(t *oauth2.Token) {
			if t.RefreshToken == "" {
				t.RefreshToken = refreshToken
			}
			if onRefresh != nil {
				onRefresh(t)
			}
		},
	}
	return oauth2.ReuseTokenSource(tok, src)
}

// HTTPClient returns an authenticated client for one user.
func HTTPClient(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, onRefresh RefreshFunc) *http.Client {
	return oauth2.NewClient(ctx, TokenSource(ctx, cfg, tok, onRefresh))
}

// ScopeString joins the configured scopes the way Google reports them.
func ScopeString() string {
	return strings.Join(Scopes, " ")
}
