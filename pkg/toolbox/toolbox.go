// Package toolbox assembles the MCP tools available to one user.
package toolbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/bttk/calendar-assistant/internal/googleapi"
	"github.com/bttk/calendar-assistant/pkg/calendar"
	"github.com/bttk/calendar-assistant/pkg/calendarmcp"
	"github.com/bttk/calendar-assistant/pkg/firecrawlmcp"
	"github.com/bttk/calendar-assistant/pkg/gmail"
	"github.com/bttk/calendar-assistant/pkg/gmailmcp"
	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/bttk/calendar-assistant/pkg/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// NotConnectedMessage is returned by Google tools for users without a token.
const NotConnectedMessage = `{"error":"User has not connected Google Calendar"}`

// TokenStore loads and persists Google tokens.
type TokenStore interface {
	GetGoogleToken(ctx context.Context, userID string) (model.UserToken, error)
	SetGoogleToken(ctx context.Context, userID string, token model.UserToken) error
}

// Builder creates per-user tool sets.
type Builder struct {
	tokens    TokenStore
	oauth     *oauth2.Config
	scraper   firecrawlmcp.Scraper
	calendars []string
	apiOpts   []option.ClientOption
	logger    zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithScraper enables the web tools.
func WithScraper(s firecrawlmcp.Scraper) Option {
	return func(b *Builder) {
		b.scraper = s
	}
}

// WithCalendars limits the calendar tools to the given calendar ids.
func WithCalendars(ids []string) Option {
	return func(b *Builder) {
		b.calendars = ids
	}
}

// WithClientOptions passes extra options to the Google API services.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(b *Builder) {
		b.apiOpts = append(b.apiOpts, opts...)
	}
}

// New returns a Builder. oauth may be nil, in which case Google tools always
// report the user as not connected.
func New(tokens TokenStore, oauth *oauth2.Config, logger zerolog.Logger, opts ...Option) *Builder {
	b := &Builder{
		tokens: tokens,
		oauth:  oauth,
		logger: logger.With().Str("component", "toolbox").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the tools of userID. A missing Google token does not fail
// the build; Google tools then answer with NotConnectedMessage.
func (b *Builder) Build(ctx context.Context, userID string) ([]server.ServerTool, error) {
	google, err := b.googleTools(ctx, userID)
	if err != nil {
		return nil, err
	}
	tools := google
	if b.scraper != nil {
		tools = append(tools, firecrawlmcp.Tools(b.scraper)...)
	}
	return tools, nil
}

func (b *Builder) googleTools(ctx context.Context, userID string) ([]server.ServerTool, error) {
	logger := b.logger.With().Str("user_id", userID).Logger()

	if b.oauth == nil {
		return disconnected(), nil
	}
	stored, err := b.tokens.GetGoogleToken(ctx, userID)
	if errors.Is(err, store.ErrNoGoogleToken) {
		logger.Debug().Msg("google not connected")
		return disconnected(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load google token: %w", err)
	}

	onRefresh := func(tok *oauth2.Token) {
		refreshed := googleapi.UserToken(tok, stored.Scope)
		if err := b.tokens.SetGoogleToken(context.WithoutCancel(ctx), userID, refreshed); err != nil {
			logger.Error().Err(err).Msg("unable to persist refreshed google token")
			return
		}
		logger.Debug().Msg("google token refreshed")
	}
	httpClient := googleapi.HTTPClient(ctx, b.oauth, googleapi.Token(stored), onRefresh)

	calClient, err := calendar.NewClient(ctx, httpClient, b.apiOpts...)
	if err != nil {
		return nil, err
	}
	gmailClient, err := gmail.NewClient(ctx, httpClient, b.apiOpts...)
	if err != nil {
		return nil, err
	}

	tools := calendarmcp.Tools(calClient, b.calendars)
	return append(tools, gmailmcp.Tools(gmailClient)...), nil
}

// disconnected returns the Google tool definitions with handlers that only
// report the missing connection, so the model still sees the full tool set.
func disconnected() []server.ServerTool {
	defs := append(calendarmcp.Tools(nil, nil), gmailmcp.Tools(nil)...)
	for i := range defs {
		defs[i].Handler = notConnected
	}
	return defs
}

func notConnected(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(NotConnectedMessage), nil
}

// Handlers indexes tools by name.
func Handlers(tools []server.ServerTool) map[string]server.ToolHandlerFunc {
	handlers := make(map[string]server.ToolHandlerFunc, len(tools))
	for _, t := range tools {
		handlers[t.Tool.Name] = t.Handler
	}
	return handlers
}
