// Package guardware adapts a session.Guard into go-router middleware so
// server-rendered or locally served views can be gated on session state.
package guardware

import (
	"context"
	"net/http"

	"github.com/goliatone/go-router"
	"github.com/goliatone/go-session"
)

// Evaluator resolves a verdict for a route access requirement. It mirrors
// session.Guard.Evaluate without creating an import cycle for tests.
type Evaluator interface {
	Evaluate(ctx context.Context, access session.RouteAccess) session.Verdict
}

type Config struct {
	// Guard is required.
	Guard Evaluator

	// Access defaults to session.AccessProtected.
	Access session.RouteAccess

	// Filter skips the guard when it returns true.
	Filter func(router.Context) bool

	// RedirectStatus overrides the status used for redirect verdicts.
	// Defaults to 302 for GET and 303 otherwise.
	RedirectStatus int
}

// New returns a handler that evaluates the guard before letting the
// request through. Redirect verdicts short-circuit the chain.
func New(config Config) router.HandlerFunc {
	if config.Guard == nil {
		panic("guardware: Config.Guard is required")
	}

	if config.Access == "" {
		config.Access = session.AccessProtected
	}

	return func(c router.Context) error {
		if config.Filter != nil && config.Filter(c) {
			return c.Next()
		}

		verdict := config.Guard.Evaluate(c.Context(), config.Access)
		if verdict.Allowed() {
			return c.Next()
		}

		status := config.RedirectStatus
		if status == 0 {
			status = http.StatusSeeOther
			if c.Method() == string(router.GET) {
				status = http.StatusFound
			}
		}

		return c.Redirect(verdict.Location, status)
	}
}

// Protected gates a route on an authenticated session.
func Protected(guard Evaluator) router.HandlerFunc {
	return New(Config{Guard: guard, Access: session.AccessProtected})
}

// PublicOnly gates a route on anonymity (login/signup views).
func PublicOnly(guard Evaluator) router.HandlerFunc {
	return New(Config{Guard: guard, Access: session.AccessPublicOnly})
}
