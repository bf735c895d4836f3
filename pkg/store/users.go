package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/lib/pq"
)

// UpsertUser stores the onboarding data, creating the user when needed.
// An existing Google token is kept when the onboarding carries none.
func (s *Store) UpsertUser(ctx context.Context, userID string, o model.UserOnboarding) error {
	var token any
	if o.GoogleToken != nil {
		token = jsonColumn[model.UserToken]{*o.GoogleToken}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, context, preferences, calendar_url, google_token, onboarded_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			context = EXCLUDED.context,
			preferences = EXCLUDED.preferences,
			calendar_url = EXCLUDED.calendar_url,
			google_token = COALESCE(EXCLUDED.google_token, users.google_token),
			onboarded_at = COALESCE(users.onboarded_at, EXCLUDED.onboarded_at)`,
		userID, jsonColumn[map[string]any]{nonNilMap(o.Context)}, pq.StringArray(nonNilSlice(o.Preferences)), o.CalendarURL, token,
	); err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return nil
}

// IsOnboarded reports whether userID completed onboarding.
func (s *Store) IsOnboarded(ctx context.Context, userID string) (bool, error) {
	var ok bool
	if err := s.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND onboarded_at IS NOT NULL)`, userID); err != nil {
		return false, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return ok, nil
}

type userContextRow struct {
	Context     jsonColumn[map[string]any] `db:"context"`
	Preferences pq.StringArray             `db:"preferences"`
	CalendarURL string                     `db:"calendar_url"`
}

// GetUserContext returns the context, preferences and calendar URL of userID.
func (s *Store) GetUserContext(ctx context.Context, userID string) (model.UserContext, error) {
	var row userContextRow
	if err := s.db.GetContext(ctx, &row,
		`SELECT context, preferences, calendar_url FROM users WHERE id = $1`, userID); err != nil {
		return model.UserContext{}, notFound(err)
	}
	return model.UserContext{
		Context:     nonNilMap(row.Context.V),
		Preferences: nonNilSlice([]string(row.Preferences)),
		CalendarURL: row.CalendarURL,
	}, nil
}

// SetGoogleToken stores the Google OAuth token of userID, creating the user
// row when needed.
func (s *Store) SetGoogleToken(ctx context.Context, userID string, token model.UserToken) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, google_token) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET google_token = EXCLUDED.google_token`,
		userID, jsonColumn[model.UserToken]{token},
	); err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return nil
}

// GetGoogleToken returns the stored Google token of userID.
func (s *Store) GetGoogleToken(ctx context.Context, userID string) (model.UserToken, error) {
	var tok jsonColumn[*model.UserToken]
	if err := s.db.GetContext(ctx, &tok, `SELECT google_token FROM users WHERE id = $1`, userID); err != nil {
		if err = notFound(err); errors.Is(err, ErrNotFound) {
			return model.UserToken{}, ErrNoGoogleToken
		}
		return model.UserToken{}, err
	}
	if tok.V == nil {
		return model.UserToken{}, ErrNoGoogleToken
	}
	return *tok.V, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
