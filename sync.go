package session

import (
	"context"
	"sync"
)

// ProfileProber fetches the current profile with a single attempt, without
// engaging the refresh protocol.
type ProfileProber interface {
	CurrentUserNoRefresh(ctx context.Context) (*UserProfile, error)
}

// Synchronizer replays credential changes made by sibling client instances
// into local session state. It never writes the credential record: the
// instance that made the change owns it. A cleared access token becomes a
// local logout with no network call; a new access token is validated with
// a single profile probe, and probe failures are logged and otherwise
// ignored since the writing instance holds authority over the credential.
type Synchronizer struct {
	store     Store
	prober    ProfileProber
	state     *State
	logger    Logger
	activity  ActivitySink
	validator *TokenValidator

	mu          sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	changes     chan Change
	idle        sync.WaitGroup
}

// SynchronizerOption customizes Synchronizer construction.
type SynchronizerOption func(*Synchronizer)

// WithSyncLogger overrides the default logger.
func WithSyncLogger(logger Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSyncActivitySink sets the sink for replay events.
func WithSyncActivitySink(sink ActivitySink) SynchronizerOption {
	return func(s *Synchronizer) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithSyncTokenValidator adds a local JWKS check on replayed tokens before
// the network probe; tokens that fail it are skipped outright.
func WithSyncTokenValidator(validator *TokenValidator) SynchronizerOption {
	return func(s *Synchronizer) {
		s.validator = validator
	}
}

func NewSynchronizer(store Store, prober ProfileProber, state *State, opts ...SynchronizerOption) *Synchronizer {
	synchronizer := &Synchronizer{
		store:    store,
		prober:   prober,
		state:    state,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(synchronizer)
		}
	}

	return synchronizer
}

// Start subscribes to the credential record and begins replaying external
// access-token changes. It is a no-op when already running.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.changes = make(chan Change, 16)

	changes := s.changes
	s.unsubscribe = s.store.Subscribe(func(change Change) {
		if change.Key != KeyAccessToken {
			return
		}
		select {
		case changes <- change:
		default:
			// a full queue means a burst of writes; the record is
			// re-read on replay so dropping intermediates is safe
		}
	})

	s.idle.Add(1)
	go s.loop(ctx, changes)
}

// Stop tears down the subscription and waits for the replay loop to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	unsubscribe := s.unsubscribe
	s.cancel = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.idle.Wait()
}

func (s *Synchronizer) loop(ctx context.Context, changes <-chan Change) {
	defer s.idle.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case change := <-changes:
			s.replay(ctx, change)
		}
	}
}

func (s *Synchronizer) replay(ctx context.Context, change Change) {
	if change.Cleared() {
		s.logger.Info("sibling instance cleared the session, logging out")
		s.state.Logout()
		s.record(ctx, ActivityEventSyncReplayLogout, nil)
		return
	}

	if s.validator != nil {
		if _, err := s.validator.Validate(change.New); err != nil {
			s.logger.Warn("sibling instance wrote a token that fails local validation, skipping replay: %v", err)
			return
		}
	}

	epoch := s.state.Epoch()

	profile, err := s.prober.CurrentUserNoRefresh(ctx)
	if err != nil {
		// possibly transient; the writing instance owns the credential,
		// so local state is left untouched
		s.logger.Warn("could not validate replayed token: %v", err)
		return
	}

	if s.state.Epoch() != epoch {
		s.logger.Debug("discarding stale replay response")
		return
	}

	s.state.Login(profile)
	s.record(ctx, ActivityEventSyncReplayLogin, map[string]any{
		"user_id": profile.ID,
	})
}

func (s *Synchronizer) record(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	event := newActivityEvent(eventType, ActorRef{Type: "sync"}, "", metadata)
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
