package session

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenValidator verifies access tokens offline against the identity
// service's published JWK Set. The synchronizer uses it to skip network
// probes for tokens that cannot possibly be valid.
type TokenValidator struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewTokenValidator builds a validator that fetches and caches the JWK Set
// at jwksURL, refreshing keys it does not recognize.
func NewTokenValidator(jwksURL string) (*TokenValidator, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "could not load JWK Set").
			WithMetadata(map[string]any{"url": jwksURL})
	}

	return newTokenValidator(jwks.Keyfunc), nil
}

// NewGivenKeyValidator builds a validator from statically configured keys,
// mainly for tests and air-gapped setups.
func NewGivenKeyValidator(givenKeys map[string]keyfunc.GivenKey) *TokenValidator {
	return newTokenValidator(keyfunc.NewGiven(givenKeys).Keyfunc)
}

func newTokenValidator(fn jwt.Keyfunc) *TokenValidator {
	return &TokenValidator{
		keyfunc: fn,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		),
	}
}

// Validate parses and verifies raw, returning its claims.
func (v *TokenValidator) Validate(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	token, err := v.parser.ParseWithClaims(raw, claims, v.keyfunc)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "access token failed validation").
			WithCode(goerrors.CodeUnauthorized)
	}

	if !token.Valid {
		return nil, ErrUnauthenticated.Clone().WithMetadata(map[string]any{
			"reason": "token is not valid",
		})
	}

	return claims, nil
}
