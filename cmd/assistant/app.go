package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bttk/calendar-assistant/internal/googleapi"
	"github.com/bttk/calendar-assistant/pkg/agent"
	"github.com/bttk/calendar-assistant/pkg/assistant"
	"github.com/bttk/calendar-assistant/pkg/auth"
	"github.com/bttk/calendar-assistant/pkg/config"
	"github.com/bttk/calendar-assistant/pkg/firecrawl"
	"github.com/bttk/calendar-assistant/pkg/llm"
	"github.com/bttk/calendar-assistant/pkg/metrics"
	"github.com/bttk/calendar-assistant/pkg/store"
	"github.com/bttk/calendar-assistant/pkg/toolbox"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// app holds the wired dependencies shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     *store.Store
	oauth     *oauth2.Config
	toolbox   *toolbox.Builder
	metrics   *metrics.Metrics
	assistant *assistant.Assistant
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store.Store, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL", config.ErrMissingSetting)
	}
	return store.Open(ctx, cfg.Database.URL, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
}

var errNoOAuthConfig = fmt.Errorf("%w: GOOGLE_CREDENTIALS_FILE or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET", config.ErrMissingSetting)

func oauthConfig(cfg *config.Config) (*oauth2.Config, error) {
	if !cfg.HasGoogleClient() {
		return nil, errNoOAuthConfig
	}
	return googleapi.Config(cfg.Google.CredentialsFile, cfg.Google.ClientID, cfg.Google.ClientSecret)
}

// newToolbox opens the store and builds the per-user tool factory.
func newToolbox(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	oauthCfg, err := oauthConfig(cfg)
	switch {
	case errors.Is(err, errNoOAuthConfig):
		logger.Warn().Msg("no Google OAuth client configured, Google tools are disabled")
	case err != nil:
		_ = st.Close()
		return nil, err
	}

	opts := []toolbox.Option{toolbox.WithCalendars(cfg.Google.Calendars)}
	if cfg.Firecrawl.APIKey != "" {
		fc, err := firecrawl.NewClient(cfg.Firecrawl.BaseURL, cfg.Firecrawl.APIKey, firecrawl.WithTimeout(cfg.Firecrawl.Timeout))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		opts = append(opts, toolbox.WithScraper(fc))
	} else {
		logger.Warn().Msg("FIRECRAWL_API_KEY not set, web tools are disabled")
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		oauth:   oauthCfg,
		toolbox: toolbox.New(st, oauthCfg, logger, opts...),
	}, nil
}

// newApp wires everything the assistant needs on top of newToolbox.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENROUTER_API_KEY", config.ErrMissingSetting)
	}
	a, err := newToolbox(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.New()
	completer := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	runner := agent.New(completer, logger,
		agent.WithMaxSteps(cfg.LLM.MaxSteps),
		agent.WithToolObserver(a.metrics),
	)
	classifier := agent.NewClassifier(completer, cfg.LLM.ClassifierModelOrDefault(), logger)
	a.assistant = assistant.New(a.store, a.toolbox, classifier, runner, logger,
		assistant.WithObserver(a.metrics),
	)
	return a, nil
}

func (a *app) authenticator(ctx context.Context) (auth.Authenticator, error) {
	if a.cfg.OIDC.IssuerURL != "" {
		a.logger.Info().Str("issuer", a.cfg.OIDC.IssuerURL).Msg("verifying tokens with OIDC")
		return auth.NewOIDC(ctx, a.cfg.OIDC.IssuerURL, a.cfg.OIDC.ClientID)
	}
	return auth.NewSupabase(a.cfg.Supabase.URL, a.cfg.Supabase.ServiceRoleKey, nil), nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("unable to close database")
	}
}
