package session

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Store is the durable credential record shared by every client instance.
// Subscribers only observe changes made by other attachments to the same
// backing medium, mirroring browser storage-event semantics.
type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
	Clear(ctx context.Context) error
	Subscribe(fn func(Change)) func()
}

// ProfileSource fetches the profile bound to the current access token. The
// bootstrapper and route guard use it as their validation probe.
type ProfileSource interface {
	CurrentUser(ctx context.Context) (*UserProfile, error)
}

// IdentityClient is the full surface the Manager composes over.
type IdentityClient interface {
	ProfileSource
	Register(ctx context.Context, draft ProfileDraft) (*UserProfile, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout(ctx context.Context) error
	CurrentUserNoRefresh(ctx context.Context) (*UserProfile, error)
	UpdateProfile(ctx context.Context, patch ProfilePatch) (*UserProfile, error)
	UpdatePassword(ctx context.Context, oldPassword, newPassword string) error
}

// Config holds session options
type Config interface {
	GetBaseURL() string
	GetLoginRoute() string
	GetLandingRoute(role UserRole) string
	GetRequestTimeout() time.Duration
	GetJWKSEndpoint() string
}

// Navigator receives forced navigation requests (expired session, logout,
// guard redirects resolved outside a router). Implementations typically
// bridge into the host application's view router.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(route string) {
	if f != nil {
		f(route)
	}
}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}

func normalizeNavigator(n Navigator) Navigator {
	if n == nil {
		return noopNavigator{}
	}
	return n
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
