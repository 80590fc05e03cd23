package session

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeValidation         = "SESSION_VALIDATION_FAILED"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeUnauthenticated    = "UNAUTHENTICATED"
	textCodeRefreshInvalid     = "REFRESH_TOKEN_INVALID"
	textCodeConflict           = "IDENTITY_CONFLICT"
	textCodeNetwork            = "NETWORK_FAILURE"
	textCodeCorruptRecord      = "CORRUPT_CREDENTIAL_RECORD"
)

// ErrValidation is returned when a request or profile payload fails shape checks.
var ErrValidation = goerrors.New("payload failed validation", goerrors.CategoryValidation).
	WithTextCode(textCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned when a login attempt is rejected.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnauthenticated is returned when a protected call carries no valid credential.
var ErrUnauthenticated = goerrors.New("request is not authenticated", goerrors.CategoryAuth).
	WithTextCode(textCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshInvalid is returned when the refresh token is missing or rejected.
var ErrRefreshInvalid = goerrors.New("refresh token rejected", goerrors.CategoryAuth).
	WithTextCode(textCodeRefreshInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrConflict is returned when the identity being registered already exists.
var ErrConflict = goerrors.New("identity already exists", goerrors.CategoryConflict).
	WithTextCode(textCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrNetwork wraps transport failures talking to the identity service.
var ErrNetwork = goerrors.New("identity service unreachable", goerrors.CategoryOperation).
	WithTextCode(textCodeNetwork).
	WithCode(goerrors.CodeInternal)

// ErrCorruptRecord flags a credential record with an access token but no
// role (or vice versa); the record is purged when this is detected.
var ErrCorruptRecord = goerrors.New("credential record is corrupt", goerrors.CategoryValidation).
	WithTextCode(textCodeCorruptRecord).
	WithCode(goerrors.CodeBadRequest)

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}

	return richErr.TextCode == textCode
}

// IsValidationError will check for payload validation failures
func IsValidationError(err error) bool {
	return hasTextCode(err, textCodeValidation)
}

// IsInvalidCredentialsError will check for rejected logins
func IsInvalidCredentialsError(err error) bool {
	return hasTextCode(err, textCodeInvalidCredentials)
}

// IsUnauthenticatedError will check for missing/expired credential failures
func IsUnauthenticatedError(err error) bool {
	return hasTextCode(err, textCodeUnauthenticated)
}

// IsRefreshInvalidError will check for rejected or absent refresh tokens
func IsRefreshInvalidError(err error) bool {
	return hasTextCode(err, textCodeRefreshInvalid)
}

// IsConflictError will check for duplicate identity registrations
func IsConflictError(err error) bool {
	return hasTextCode(err, textCodeConflict)
}

// IsNetworkError will check for transport failures
func IsNetworkError(err error) bool {
	return hasTextCode(err, textCodeNetwork)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedTokenError will check for error message
func IsMalformedTokenError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
