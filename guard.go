package session

import "context"

// RouteAccess declares what a view requires from the session.
type RouteAccess string

const (
	// AccessProtected requires an authenticated session.
	AccessProtected RouteAccess = "protected"
	// AccessPublicOnly requires anonymity (login/signup views).
	AccessPublicOnly RouteAccess = "public-only"
)

// Decision is the resolved half of the guard's two-state machine; while an
// evaluation is in flight the view is pending and should render a loading
// placeholder.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionRedirect Decision = "redirect"
)

// Verdict is the outcome of one guard evaluation.
type Verdict struct {
	Decision Decision
	Location string
}

// Allowed reports whether the view may render.
func (v Verdict) Allowed() bool {
	return v.Decision == DecisionAllow
}

// Guard gates rendering of a view on current session state. Evaluations
// fail closed: anything unexpected on a protected route ends in a purge
// and a redirect to the login entry point.
type Guard struct {
	cfg    Config
	store  Store
	source ProfileSource
	state  *State
	logger Logger
}

// GuardOption customizes Guard construction.
type GuardOption func(*Guard)

// WithGuardLogger overrides the default logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGuard(cfg Config, store Store, source ProfileSource, state *State, opts ...GuardOption) *Guard {
	guard := &Guard{
		cfg:    cfg,
		store:  store,
		source: source,
		state:  state,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}

	return guard
}

// Evaluate resolves the verdict for a view with the given access
// requirement. It blocks while a validation probe is in flight; callers
// show their loading placeholder until it returns.
func (g *Guard) Evaluate(ctx context.Context, access RouteAccess) Verdict {
	switch access {
	case AccessPublicOnly:
		return g.evaluatePublicOnly(ctx)
	default:
		return g.evaluateProtected(ctx)
	}
}

func (g *Guard) evaluateProtected(ctx context.Context) Verdict {
	creds, err := g.store.Load(ctx)
	if err != nil {
		g.logger.Warn("guard could not read credential record: %v", err)
		return g.failClosed(ctx)
	}

	if !creds.HasSession() {
		return g.redirectLogin()
	}

	if g.state.Authenticated() {
		return Verdict{Decision: DecisionAllow}
	}

	epoch := g.state.Epoch()

	profile, err := g.source.CurrentUser(ctx)
	if err != nil {
		g.logger.Warn("guard token validation failed: %v", err)
		return g.failClosed(ctx)
	}

	if g.state.Epoch() != epoch {
		// a login/logout landed while validating; trust the newer
		// transition over our response
		g.logger.Debug("guard discarding stale validation response")
		if g.state.Authenticated() {
			return Verdict{Decision: DecisionAllow}
		}
		return g.redirectLogin()
	}

	g.state.Login(profile)
	if !g.state.Authenticated() {
		// profile failed the shape check; treat like a bad token
		return g.failClosed(ctx)
	}

	return Verdict{Decision: DecisionAllow}
}

func (g *Guard) evaluatePublicOnly(ctx context.Context) Verdict {
	creds, err := g.store.Load(ctx)
	if err != nil {
		g.logger.Warn("guard could not read credential record: %v", err)
		return Verdict{Decision: DecisionAllow}
	}

	if !creds.HasSession() || !g.state.Authenticated() {
		return Verdict{Decision: DecisionAllow}
	}

	return Verdict{
		Decision: DecisionRedirect,
		Location: g.cfg.GetLandingRoute(g.landingRole(creds)),
	}
}

// landingRole picks the role used for post-login routing: session state
// first, then the stored record, then the token itself.
func (g *Guard) landingRole(creds *Credentials) UserRole {
	if snapshot := g.state.Snapshot(); snapshot.User != nil && snapshot.User.Role != "" {
		return snapshot.User.Role
	}

	if creds.Role != "" {
		return creds.Role
	}

	if role, ok := RoleFromToken(creds.AccessToken); ok {
		return role
	}

	return ""
}

func (g *Guard) failClosed(ctx context.Context) Verdict {
	if err := g.store.Clear(ctx); err != nil {
		g.logger.Error("guard could not purge credential record: %v", err)
	}
	g.state.Logout()
	return g.redirectLogin()
}

func (g *Guard) redirectLogin() Verdict {
	return Verdict{
		Decision: DecisionRedirect,
		Location: g.cfg.GetLoginRoute(),
	}
}
