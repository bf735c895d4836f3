package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserToken is a Google OAuth token as posted by the frontend.
type UserToken struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	Scope        string     `json:"scope"`
	TokenType    string     `json:"token_type"`
	ExpiryDate   ExpiryDate `json:"expiry_date"`
}

// ExpiryDate accepts epoch milliseconds, epoch seconds or RFC3339, as a
// JSON number or string. It always marshals as epoch milliseconds.
type ExpiryDate struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ExpiryDate) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		e.Time = time.Time{}
		return nil
	}
	t, err := ParseExpiry(raw)
	if err != nil {
		return err
	}
	e.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e ExpiryDate) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(e.UnixMilli())
}

// ParseExpiry interprets an expiry value. Numbers longer than ten digits
// are milliseconds.
func ParseExpiry(raw string) (time.Time, error) {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		digits := strings.SplitN(strings.TrimLeft(raw, "-"), ".", 2)[0]
		if len(digits) > 10 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		return time.Unix(int64(n), 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expiry_date %q", ErrInvalidToken, raw)
	}
	return t.UTC(), nil
}

// Validate checks that the token can be used to reach Google.
func (t UserToken) Validate() error {
	if t.AccessToken == "" && t.RefreshToken == "" {
		return fmt.Errorf("%w: access_token or refresh_token is required", ErrInvalidToken)
	}
	return nil
}
