// Package auth resolves bearer tokens to user ids.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var (
	// ErrUnauthorized is returned when a token is missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrProvider is returned when the identity provider cannot be reached.
	ErrProvider = errors.New("unable to reach identity provider")
)

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Supabase validates tokens against the Supabase auth API.
type Supabase struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Authenticator = (*Supabase)(nil)

// NewSupabase returns a Supabase authenticator. httpClient may be nil.
func NewSupabase(baseURL, apiKey string, httpClient *http.Client) *Supabase {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Supabase{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type supabaseUser struct {
	ID string `json:"id"`
}

// Authenticate implements Authenticator.
func (s *Supabase) Authenticate(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	var user supabaseUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if user.ID == "" {
		return "", ErrUnauthorized
	}
	return user.ID, nil
}

// OIDC verifies JWTs locally against the issuer's keys.
type OIDC struct {
	verifier *oidc.IDTokenVerifier
}

var _ Authenticator = (*OIDC)(nil)

// NewOIDC discovers issuerURL. With an empty clientID the audience is not
// checked.
func NewOIDC(ctx context.Context, issuerURL, clientID string) (*OIDC, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return &OIDC{
		verifier: provider.Verifier(&oidc.Config{
			ClientID:          clientID,
			SkipClientIDCheck: clientID == "",
		}),
	}, nil
}

// Authenticate implements Authenticator.
func (o *OIDC) Authenticate(ctx context.Context, token string) (string, error) {
	idToken, err := o.verifier.Verify(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if idToken.Subject == "" {
		return "", ErrUnauthorized
	}
	return idToken.Subject, nil
}

type userIDKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id set by Middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// UserID returns the user id of an authenticated gin request.
func UserID(c *gin.Context) string {
	id, _ := UserIDFromContext(c.Request.Context())
	return id
}

// bearerToken extracts the credentials of an Authorization header. The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// user id on the request context.
func Middleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Unauthorized"})
			return
		}

		userID, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger := zerolog.Ctx(c.Request.Context())
			if errors.Is(err, ErrUnauthorized) {
				logger.Debug().Err(err).Msg("token rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
				return
			}
			logger.Error().Err(err).Msg("unable to authenticate")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Authentication unavailable"})
			return
		}

		ctx := WithUserID(c.Request.Context(), userID)
		zerolog.Ctx(ctx).UpdateContext(func(zc zerolog.Context) zerolog.Context {
			return zc.Str("user_id", userID)
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
