package session

import (
	"context"
	"net/http"
)

// Manager composes the credential store, session state, identity client,
// bootstrapper, and synchronizer behind one explicitly injected object.
// Create it at application start and pass it to whatever needs a bearer
// credential or login/logout transitions; it is reset on logout, never
// destroyed.
type Manager struct {
	cfg       Config
	store     Store
	state     *State
	client    IdentityClient
	boot      *Bootstrapper
	sync      *Synchronizer
	guard     *Guard
	logger    Logger
	activity  ActivitySink
	navigator Navigator
}

// Option customizes Manager construction.
type Option func(*managerOptions)

type managerOptions struct {
	logger       Logger
	httpc        *http.Client
	policy       RefreshPolicy
	activitySink ActivitySink
	navigator    Navigator
	validator    *TokenValidator
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithManagerHTTPClient overrides the identity client transport.
func WithManagerHTTPClient(httpc *http.Client) Option {
	return func(o *managerOptions) {
		o.httpc = httpc
	}
}

// WithManagerRefreshPolicy swaps the refresh coalescing policy.
func WithManagerRefreshPolicy(policy RefreshPolicy) Option {
	return func(o *managerOptions) {
		o.policy = policy
	}
}

// WithActivitySink wires an audit sink through every component.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *managerOptions) {
		o.activitySink = normalizeActivitySink(sink)
	}
}

// WithNavigator bridges forced navigation (forced logout, explicit logout)
// into the host application's router.
func WithNavigator(navigator Navigator) Option {
	return func(o *managerOptions) {
		o.navigator = navigator
	}
}

// WithTokenValidator enables local JWKS validation of replayed tokens.
func WithTokenValidator(validator *TokenValidator) Option {
	return func(o *managerOptions) {
		o.validator = validator
	}
}

// New builds a Manager on top of store.
func New(cfg Config, store Store, opts ...Option) *Manager {
	options := &managerOptions{
		logger:       defLogger{},
		policy:       PerCallRefresh{},
		activitySink: noopActivitySink{},
		navigator:    noopNavigator{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	manager := &Manager{
		cfg:       cfg,
		store:     store,
		logger:    options.logger,
		activity:  options.activitySink,
		navigator: normalizeNavigator(options.navigator),
		state: NewState(
			WithStateLogger(options.logger),
		),
	}

	clientOpts := []ClientOption{
		WithClientLogger(options.logger),
		WithRefreshPolicy(options.policy),
		WithClientActivitySink(options.activitySink),
		WithSessionExpiredHandler(manager.onSessionExpired),
	}
	if options.httpc != nil {
		clientOpts = append(clientOpts, WithHTTPClient(options.httpc))
	}

	client := NewClient(cfg, store, clientOpts...)
	manager.client = client

	manager.boot = NewBootstrapper(store, client, manager.state,
		WithBootstrapLogger(options.logger),
		WithBootstrapActivitySink(options.activitySink),
	)

	syncOpts := []SynchronizerOption{
		WithSyncLogger(options.logger),
		WithSyncActivitySink(options.activitySink),
	}
	if options.validator != nil {
		syncOpts = append(syncOpts, WithSyncTokenValidator(options.validator))
	}
	manager.sync = NewSynchronizer(store, client, manager.state, syncOpts...)

	manager.guard = NewGuard(cfg, store, client, manager.state,
		WithGuardLogger(options.logger),
	)

	return manager
}

// State exposes session observations and transition broadcasts.
func (m *Manager) State() *State {
	return m.state
}

// Store exposes the credential record.
func (m *Manager) Store() Store {
	return m.store
}

// Client exposes the identity client.
func (m *Manager) Client() IdentityClient {
	return m.client
}

// Guard returns the route guard bound to this session.
func (m *Manager) Guard() *Guard {
	return m.guard
}

// Bootstrap runs the one-time startup reconciliation. Block rendering on
// BootstrapDone() until it returns.
func (m *Manager) Bootstrap(ctx context.Context) error {
	return m.boot.Run(ctx)
}

// BootstrapDone is closed once the bootstrap pass has completed.
func (m *Manager) BootstrapDone() <-chan struct{} {
	return m.boot.Done()
}

// StartSync begins replaying credential changes from sibling instances.
func (m *Manager) StartSync(ctx context.Context) {
	m.sync.Start(ctx)
}

// StopSync halts cross-instance replay.
func (m *Manager) StopSync() {
	m.sync.Stop()
}

// BearerToken returns the current access token, or "" when logged out.
// Collaborating subsystems call this to authenticate their own requests.
func (m *Manager) BearerToken(ctx context.Context) (string, error) {
	creds, err := m.store.Load(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// Login authenticates, persists the credential record, and promotes the
// profile into session state. The access token and role are written
// together; a profile that fails the shape check aborts the login with
// nothing persisted.
func (m *Manager) Login(ctx context.Context, email, password string) (*UserProfile, error) {
	result, err := m.client.Login(ctx, email, password)
	if err != nil {
		m.state.SetError(err.Error())
		m.record(ctx, ActivityEventLoginFailure, "", map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	if err := result.User.Validate(); err != nil {
		m.state.Login(result.User) // records the rejection in LastError
		m.record(ctx, ActivityEventLoginFailure, "", map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	creds := &Credentials{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Role:         result.User.Role,
	}

	if err := m.store.Save(ctx, creds); err != nil {
		return nil, err
	}

	m.state.Login(result.User)
	m.record(ctx, ActivityEventLoginSuccess, result.User.ID, map[string]any{
		"email": email,
	})

	return result.User, nil
}

// Logout notifies the server best-effort and always clears local state,
// then navigates to the login entry point.
func (m *Manager) Logout(ctx context.Context) {
	userID := ""
	if snapshot := m.state.Snapshot(); snapshot.User != nil {
		userID = snapshot.User.ID
	}

	if err := m.client.Logout(ctx); err != nil {
		m.logger.Warn("server logout failed, clearing local session anyway: %v", err)
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("could not purge credential record: %v", err)
	}

	m.state.Logout()
	m.record(ctx, ActivityEventLogout, userID, nil)
	m.navigator.Navigate(m.cfg.GetLoginRoute())
}

// Register creates a new identity. It does not log the new user in.
func (m *Manager) Register(ctx context.Context, draft ProfileDraft) (*UserProfile, error) {
	return m.client.Register(ctx, draft)
}

// UpdateProfile pushes a partial update to the server and mirrors it into
// session state once confirmed.
func (m *Manager) UpdateProfile(ctx context.Context, patch ProfilePatch) (*UserProfile, error) {
	profile, err := m.client.UpdateProfile(ctx, patch)
	if err != nil {
		return nil, err
	}

	m.state.UpdateProfile(patch)
	return profile, nil
}

// UpdatePassword rotates the account password.
func (m *Manager) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	return m.client.UpdatePassword(ctx, oldPassword, newPassword)
}

// onSessionExpired is invoked by the client after a failed refresh already
// purged the credential record: the session-wide consequence happens here
// regardless of how the failing caller handles its error.
func (m *Manager) onSessionExpired(reason error) {
	m.logger.Info("forcing logout: %v", reason)
	m.state.Logout()
	m.navigator.Navigate(m.cfg.GetLoginRoute())
}

func (m *Manager) record(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	event := newActivityEvent(eventType, ActorRef{Type: "user", ID: userID}, userID, metadata)
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
