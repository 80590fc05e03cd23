package session

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time, read-only view of the session state.
type Snapshot struct {
	Authenticated       bool
	User                *UserProfile
	LastAuthenticatedAt *time.Time
	LastError           string
	Epoch               uint64
}

// State is the in-memory session representation for one client instance.
// It is created at application start, reset on logout, and never destroyed;
// every page load re-derives it from the credential record via the
// Bootstrapper. Authenticated implies User != nil.
//
// The epoch counter increments on every login/logout transition. Async
// writers (bootstrap, guard) stamp the epoch before their validation call
// and discard responses that arrive after the session moved on.
type State struct {
	mu                  sync.Mutex
	authenticated       bool
	user                *UserProfile
	lastAuthenticatedAt *time.Time
	lastError           string
	epoch               uint64

	subs   map[int]func(Snapshot)
	nextID int

	now    func() time.Time
	logger Logger
}

// StateOption customizes State construction.
type StateOption func(*State)

// WithStateClock injects a custom clock (useful for tests).
func WithStateClock(clock func() time.Time) StateOption {
	return func(s *State) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithStateLogger overrides the default logger.
func WithStateLogger(logger Logger) StateOption {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewState(opts ...StateOption) *State {
	state := &State{
		subs:   map[int]func(Snapshot){},
		now:    time.Now,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(state)
		}
	}

	return state
}

// Login promotes profile into the authenticated state. Validation failures
// are swallowed into LastError instead of returned so callers can render
// them: the state stays (or becomes) unauthenticated.
func (s *State) Login(profile *UserProfile) {
	if err := profile.Validate(); err != nil {
		s.logger.Warn("rejected login transition: %v", err)
		s.mu.Lock()
		s.authenticated = false
		s.user = nil
		s.lastError = err.Error()
		s.epoch++
		snapshot := s.snapshotLocked()
		subs := s.subscribersLocked()
		s.mu.Unlock()

		s.broadcast(subs, snapshot)
		return
	}

	now := s.now()

	s.mu.Lock()
	s.authenticated = true
	s.user = profile.Clone()
	s.lastAuthenticatedAt = &now
	s.lastError = ""
	s.epoch++
	snapshot := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, snapshot)
}

// Logout unconditionally resets to the initial unauthenticated shape.
func (s *State) Logout() {
	s.mu.Lock()
	s.authenticated = false
	s.user = nil
	s.lastAuthenticatedAt = nil
	s.lastError = ""
	s.epoch++
	snapshot := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, snapshot)
}

// UpdateProfile shallow-merges patch into the current user. No-op when not
// authenticated.
func (s *State) UpdateProfile(patch ProfilePatch) {
	s.mu.Lock()
	if !s.authenticated || s.user == nil {
		s.mu.Unlock()
		return
	}

	if patch.FullName != nil {
		s.user.FullName = *patch.FullName
	}
	if patch.Phone != nil {
		s.user.Phone = *patch.Phone
	}
	if patch.AvatarURL != nil {
		s.user.AvatarURL = *patch.AvatarURL
	}

	snapshot := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, snapshot)
}

// SetError records a user-visible error message without touching the
// authentication flags.
func (s *State) SetError(message string) {
	s.mu.Lock()
	s.lastError = message
	snapshot := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, snapshot)
}

func (s *State) ClearError() {
	s.SetError("")
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Epoch returns the current transition counter.
func (s *State) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Subscribe registers fn for state transition broadcasts. The returned
// function removes the subscription.
func (s *State) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Authenticated:       s.authenticated,
		User:                s.user.Clone(),
		LastAuthenticatedAt: s.lastAuthenticatedAt,
		LastError:           s.lastError,
		Epoch:               s.epoch,
	}
}

func (s *State) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *State) broadcast(subs []func(Snapshot), snapshot Snapshot) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
