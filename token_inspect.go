package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenClaims is the claim set carried by the identity service's access
// tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	UID      string   `json:"uid,omitempty"`
	UserRole UserRole `json:"role,omitempty"`
}

// UserID returns the user the token was minted for.
func (c *TokenClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// InspectToken decodes claims WITHOUT verifying the signature. Use it for
// routing hints (role, expiry) only, never for access decisions.
func InspectToken(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "could not decode access token")
	}

	return claims, nil
}

// TokenExpired reports whether the token's exp claim is in the past. An
// undecodable token counts as expired.
func TokenExpired(raw string, now time.Time) bool {
	claims, err := InspectToken(raw)
	if err != nil {
		return true
	}

	if claims.ExpiresAt == nil {
		return false
	}

	return claims.ExpiresAt.Before(now)
}

// RoleFromToken extracts the role claim for post-login routing.
func RoleFromToken(raw string) (UserRole, bool) {
	claims, err := InspectToken(raw)
	if err != nil {
		return "", false
	}

	if claims.UserRole == "" {
		return "", false
	}

	return ParseRole(claims.UserRole)
}
