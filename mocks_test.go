package session_test

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-session"
)

// quietLogger keeps test output clean.
type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

// fakeSource scripts responses for the validation probe.
type fakeSource struct {
	mu      sync.Mutex
	profile *session.UserProfile
	err     error
	calls   int
	barrier func()
}

func (f *fakeSource) CurrentUser(_ context.Context) (*session.UserProfile, error) {
	return f.fetch()
}

func (f *fakeSource) CurrentUserNoRefresh(_ context.Context) (*session.UserProfile, error) {
	return f.fetch()
}

func (f *fakeSource) fetch() (*session.UserProfile, error) {
	f.mu.Lock()
	f.calls++
	profile, err, barrier := f.profile, f.err, f.barrier
	f.mu.Unlock()

	if barrier != nil {
		barrier()
	}

	if err != nil {
		return nil, err
	}
	return profile.Clone(), nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) set(profile *session.UserProfile, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile, f.err = profile, err
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []session.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event session.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []session.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]session.ActivityEventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.EventType)
	}
	return types
}

func testProfile() *session.UserProfile {
	return &session.UserProfile{
		ID:       "usr-001",
		Email:    "ada@example.com",
		FullName: "Ada Lovelace",
		Role:     session.RoleAdmin,
	}
}

func testConfig(baseURL string) *session.ConfigObject {
	return &session.ConfigObject{
		BaseURL:    baseURL,
		LoginRoute: "/login",
		LandingRoutes: map[session.UserRole]string{
			session.RoleAdmin:    "/admin",
			session.RoleEmployee: "/dashboard",
		},
		DefaultLandingRoute: "/dashboard",
		RequestTimeout:      5 * time.Second,
	}
}

func signedToken(key []byte, role session.UserRole, expiresIn time.Duration) string {
	claims := &session.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		UID:      "usr-001",
		UserRole: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "test-key"

	raw, err := token.SignedString(key)
	if err != nil {
		panic(err)
	}
	return raw
}
