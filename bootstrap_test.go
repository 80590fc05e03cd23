package session_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapWithoutSession(t *testing.T) {
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	state := session.NewState(session.WithStateLogger(quietLogger{}))
	source := &fakeSource{profile: testProfile()}

	boot := session.NewBootstrapper(store, source, state,
		session.WithBootstrapLogger(quietLogger{}),
	)

	require.NoError(t, boot.Run(context.Background()))

	assert.Zero(t, source.callCount(), "an empty record resolves without a network call")
	assert.False(t, state.Authenticated())
	assert.True(t, boot.Completed())
}

func TestBootstrapValidSession(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	state := session.NewState(session.WithStateLogger(quietLogger{}))
	source := &fakeSource{profile: testProfile()}
	sink := &recordingSink{}

	seedStaleSession(t, store)

	boot := session.NewBootstrapper(store, source, state,
		session.WithBootstrapLogger(quietLogger{}),
		session.WithBootstrapActivitySink(sink),
	)

	require.NoError(t, boot.Run(ctx))

	assert.Equal(t, 1, source.callCount())
	assert.True(t, state.Authenticated())
	assert.Equal(t, "ada@example.com", state.Snapshot().User.Email)
	assert.Contains(t, sink.types(), session.ActivityEventBootstrapDone)

	// record survives a successful bootstrap
	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, creds.HasSession())
}

func TestBootstrapRejectedTokenPurgesEverything(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	state := session.NewState(session.WithStateLogger(quietLogger{}))
	source := &fakeSource{err: session.ErrUnauthenticated}
	sink := &recordingSink{}

	seedStaleSession(t, store)

	boot := session.NewBootstrapper(store, source, state,
		session.WithBootstrapLogger(quietLogger{}),
		session.WithBootstrapActivitySink(sink),
	)

	// validation failure is an outcome, not an error
	require.NoError(t, boot.Run(ctx))

	assert.False(t, state.Authenticated())
	assert.Contains(t, sink.types(), session.ActivityEventBootstrapPurge)

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, creds.HasSession())
	assert.Empty(t, creds.RefreshToken)
	assert.Empty(t, creds.Role)
}

func TestBootstrapSkipsWhenAlreadyAuthenticated(t *testing.T) {
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	state := session.NewState(session.WithStateLogger(quietLogger{}))
	source := &fakeSource{profile: testProfile()}

	seedStaleSession(t, store)
	state.Login(testProfile())

	boot := session.NewBootstrapper(store, source, state,
		session.WithBootstrapLogger(quietLogger{}),
	)

	require.NoError(t, boot.Run(context.Background()))

	assert.Zero(t, source.callCount())
	assert.True(t, state.Authenticated())
}

func TestBootstrapRunsOnlyOnce(t *testing.T) {
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	state := session.NewState(session.WithStateLogger(quietLogger{}))
	source := &fakeSource{profile: testProfile()}

	seedStaleSession(t, store)

	boot := session.NewBootstrapper(store, source, state,
		session.WithBootstrapLogger(quietLogger{}),
	)

	require.NoError(t, boot.Run(context.Background()))
	require.NoError(t, boot.Run(context.Background()))

	assert.Equal(t, 1, source.callCount())
}

func TestBootstrapDiscardsStaleResponse(t *testing.T) {
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	state := session.NewState(session.WithStateLogger(quietLogger{}))

	// a logout lands while the validation request is in flight
	source := &fakeSource{
		profile: testProfile(),
		barrier: func() { state.Logout() },
	}

	seedStaleSession(t, store)

	boot := session.NewBootstrapper(store, source, state,
		session.WithBootstrapLogger(quietLogger{}),
	)

	require.NoError(t, boot.Run(context.Background()))

	assert.False(t, state.Authenticated(), "the newer transition wins")
}
