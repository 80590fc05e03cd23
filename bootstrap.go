package session

import (
	"context"
	"sync"
)

// Bootstrapper reconciles the credential record against session state once
// per application load: a stored token is validated by fetching the current
// user, and everything is purged when that fails. Rendering should block on
// Done() so route evaluation never runs before the verdict.
type Bootstrapper struct {
	store    Store
	source   ProfileSource
	state    *State
	logger   Logger
	activity ActivitySink

	once sync.Once
	done chan struct{}
}

// BootstrapperOption customizes Bootstrapper construction.
type BootstrapperOption func(*Bootstrapper)

// WithBootstrapLogger overrides the default logger.
func WithBootstrapLogger(logger Logger) BootstrapperOption {
	return func(b *Bootstrapper) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBootstrapActivitySink sets the sink for bootstrap lifecycle events.
func WithBootstrapActivitySink(sink ActivitySink) BootstrapperOption {
	return func(b *Bootstrapper) {
		b.activity = normalizeActivitySink(sink)
	}
}

func NewBootstrapper(store Store, source ProfileSource, state *State, opts ...BootstrapperOption) *Bootstrapper {
	boot := &Bootstrapper{
		store:    store,
		source:   source,
		state:    state,
		logger:   defLogger{},
		activity: noopActivitySink{},
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(boot)
		}
	}

	return boot
}

// Done is closed once the bootstrap pass has completed.
func (b *Bootstrapper) Done() <-chan struct{} {
	return b.done
}

// Completed reports whether the pass has finished.
func (b *Bootstrapper) Completed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Run executes the single bootstrap pass. It never surfaces validation
// failures as errors: a bad stored token ends with a purged record and an
// unauthenticated state. Subsequent calls are no-ops.
func (b *Bootstrapper) Run(ctx context.Context) error {
	var err error
	b.once.Do(func() {
		defer close(b.done)
		err = b.run(ctx)
	})
	return err
}

func (b *Bootstrapper) run(ctx context.Context) error {
	creds, err := b.store.Load(ctx)
	if err != nil {
		b.logger.Warn("bootstrap could not read credential record: %v", err)
		b.purge(ctx, "store read failed")
		return nil
	}

	if !creds.HasSession() {
		// idempotent: the state may already be unauthenticated
		b.state.Logout()
		b.record(ctx, ActivityEventBootstrapDone, map[string]any{"outcome": "no-session"})
		return nil
	}

	if b.state.Authenticated() {
		// avoids a redundant validation call on remounts
		b.record(ctx, ActivityEventBootstrapDone, map[string]any{"outcome": "already-authenticated"})
		return nil
	}

	epoch := b.state.Epoch()

	profile, err := b.source.CurrentUser(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if b.state.Epoch() != epoch {
		// the session moved on while we were validating; the newer
		// transition wins
		b.logger.Debug("bootstrap discarding stale validation response")
		b.record(ctx, ActivityEventBootstrapDone, map[string]any{"outcome": "stale"})
		return nil
	}

	if err != nil {
		b.logger.Warn("bootstrap token validation failed: %v", err)
		b.purge(ctx, err.Error())
		return nil
	}

	b.state.Login(profile)
	b.record(ctx, ActivityEventBootstrapDone, map[string]any{"outcome": "authenticated"})
	return nil
}

func (b *Bootstrapper) purge(ctx context.Context, reason string) {
	if err := b.store.Clear(ctx); err != nil {
		b.logger.Error("bootstrap could not purge credential record: %v", err)
	}
	b.state.Logout()
	b.record(ctx, ActivityEventBootstrapPurge, map[string]any{"reason": reason})
}

func (b *Bootstrapper) record(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	event := newActivityEvent(eventType, ActorRef{Type: "bootstrap"}, "", metadata)
	if err := b.activity.Record(ctx, event); err != nil {
		b.logger.Warn("activity sink record error: %v", err)
	}
}
