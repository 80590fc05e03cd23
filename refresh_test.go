package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refreshBackend serves the current-user and refresh-token endpoints and
// counts how often each was hit.
type refreshBackend struct {
	mu          sync.Mutex
	userCalls   int
	refreshHits int
	validToken  string
	rejectAll   bool
}

func (b *refreshBackend) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/user/get-user", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.userCalls++
		valid := "Bearer " + b.validToken
		b.mu.Unlock()

		if r.Header.Get("Authorization") != valid {
			http.Error(w, `{"message":"token expired"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(testProfile())
	})

	mux.HandleFunc("/user/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refreshHits++
		reject := b.rejectAll
		b.mu.Unlock()

		if reject {
			http.Error(w, `{"message":"refresh token revoked"}`, http.StatusUnauthorized)
			return
		}

		payload := map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "rt-old", payload["refresh_token"])

		b.mu.Lock()
		b.validToken = "at-new"
		b.mu.Unlock()

		json.NewEncoder(w).Encode(session.TokenPair{
			AccessToken:  "at-new",
			RefreshToken: "rt-new",
		})
	})

	return mux
}

func (b *refreshBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userCalls, b.refreshHits
}

func seedStaleSession(t *testing.T, store session.Store) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), &session.Credentials{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		Role:         session.RoleManager,
	}))
}

func TestRefreshRetriesExactlyOnce(t *testing.T) {
	backend := &refreshBackend{validToken: "at-new"}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	store := session.NewMemoryStore().WithLogger(quietLogger{})
	seedStaleSession(t, store)

	sink := &recordingSink{}
	client := session.NewClient(testConfig(server.URL), store,
		session.WithClientLogger(quietLogger{}),
		session.WithClientActivitySink(sink),
	)

	profile, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Email)

	userCalls, refreshHits := backend.counts()
	assert.Equal(t, 2, userCalls, "original call plus exactly one retry")
	assert.Equal(t, 1, refreshHits)

	// record now holds the rotated pair, role untouched
	creds, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", creds.AccessToken)
	assert.Equal(t, "rt-new", creds.RefreshToken)
	assert.Equal(t, session.RoleManager, creds.Role)

	assert.Contains(t, sink.types(), session.ActivityEventRefreshSuccess)
}

func TestRefreshFailurePurgesSession(t *testing.T) {
	backend := &refreshBackend{validToken: "at-new", rejectAll: true}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	store := session.NewMemoryStore().WithLogger(quietLogger{})
	seedStaleSession(t, store)

	var expiredWith error
	sink := &recordingSink{}
	client := session.NewClient(testConfig(server.URL), store,
		session.WithClientLogger(quietLogger{}),
		session.WithClientActivitySink(sink),
		session.WithSessionExpiredHandler(func(reason error) { expiredWith = reason }),
	)

	_, err := client.CurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsRefreshInvalidError(err), "caller sees the refresh failure, not the original 401")

	userCalls, refreshHits := backend.counts()
	assert.Equal(t, 1, userCalls, "no retry after a failed refresh")
	assert.Equal(t, 1, refreshHits)

	creds, lerr := store.Load(context.Background())
	require.NoError(t, lerr)
	assert.False(t, creds.HasSession())

	require.Error(t, expiredWith)
	assert.True(t, session.IsRefreshInvalidError(expiredWith))
	assert.Contains(t, sink.types(), session.ActivityEventRefreshFailure)
	assert.Contains(t, sink.types(), session.ActivityEventForcedLogout)
}

func TestRefreshWithoutStoredTokenEscalates(t *testing.T) {
	backend := &refreshBackend{validToken: "at-valid"}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	store := session.NewMemoryStore().WithLogger(quietLogger{})
	require.NoError(t, store.Save(context.Background(), &session.Credentials{
		AccessToken: "at-old", Role: session.RoleEmployee,
	}))

	client := session.NewClient(testConfig(server.URL), store,
		session.WithClientLogger(quietLogger{}),
	)

	_, err := client.CurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsRefreshInvalidError(err))

	_, refreshHits := backend.counts()
	assert.Zero(t, refreshHits, "no request goes out without a refresh token")

	creds, lerr := store.Load(context.Background())
	require.NoError(t, lerr)
	assert.False(t, creds.HasSession())
}

func TestPerCallRefreshRunsEveryAttempt(t *testing.T) {
	var calls atomic.Int32
	refresh := func(context.Context) error {
		calls.Add(1)
		return nil
	}

	policy := session.PerCallRefresh{}
	require.NoError(t, policy.Execute(context.Background(), refresh))
	require.NoError(t, policy.Execute(context.Background(), refresh))

	assert.Equal(t, int32(2), calls.Load())
}

func TestCoalescedRefreshSharesInflightCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	refresh := func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}

	policy := session.NewCoalescedRefresh()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, policy.Execute(context.Background(), refresh))
	}()

	// wait for the leader to be in flight before the followers join
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, policy.Execute(context.Background(), refresh))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "followers share the leader's refresh")
}
