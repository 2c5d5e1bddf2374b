package session

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Claims is the user information carried in the backend's access token.
type Claims struct {
	jwt.RegisteredClaims
	UserID json.Number `json:"user_id,omitempty"`
	Email  string      `json:"email,omitempty"`
}

// ParseClaims decodes token without verifying its signature; the backend is
// the only party that can validate it. Returns false for non-JWT tokens.
func ParseClaims(token string) (*Claims, bool) {
	if token == "" {
		return nil, false
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Expiry returns the token expiry, or the zero time when the token has none.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// OAuth2Token describes the current access token in oauth2 terms so callers
// can use oauth2.Token helpers (Valid, SetAuthHeader). Expiry is taken from
// the token claims when present.
func (s *Session) OAuth2Token() (*oauth2.Token, bool) {
	creds, ok := s.Credentials()
	if !ok {
		return nil, false
	}
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if claims, ok := ParseClaims(creds.AccessToken); ok {
		tok.Expiry = claims.Expiry()
	}
	return tok, true
}
