package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*session.Client, *session.MemoryStore) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := session.NewMemoryStore().WithLogger(quietLogger{})
	client := session.NewClient(testConfig(server.URL), store,
		session.WithClientLogger(quietLogger{}),
	)

	return client, store
}

func TestClientLogin(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/user/login", r.URL.Path)

		payload := map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "ada@example.com", payload["email"])

		json.NewEncoder(w).Encode(session.LoginResult{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			User:         testProfile(),
		})
	}))

	result, err := client.Login(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "at-1", result.AccessToken)
	assert.Equal(t, "rt-1", result.RefreshToken)
	assert.Equal(t, "usr-001", result.User.ID)
}

func TestClientLoginRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"wrong password"}`, http.StatusUnauthorized)
	}))

	_, err := client.Login(context.Background(), "ada@example.com", "nope")
	require.Error(t, err)
	assert.True(t, session.IsInvalidCredentialsError(err))
}

func TestClientRegisterConflict(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/register", r.URL.Path)
		http.Error(w, `{"message":"email taken"}`, http.StatusConflict)
	}))

	_, err := client.Register(context.Background(), session.ProfileDraft{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "s3cret-password",
	})
	require.Error(t, err)
	assert.True(t, session.IsConflictError(err))
}

func TestClientRegisterValidatesLocally(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	_, err := client.Register(context.Background(), session.ProfileDraft{
		FullName: "Ada Lovelace",
		Email:    "not-an-email",
		Password: "s3cret-password",
	})
	require.Error(t, err)
	assert.True(t, session.IsValidationError(err))
	assert.Zero(t, calls, "invalid drafts never reach the server")
}

func TestClientCurrentUserSendsBearer(t *testing.T) {
	var gotAuth string
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/get-user", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(testProfile())
	}))

	require.NoError(t, store.Save(context.Background(), &session.Credentials{
		AccessToken: "at-1", RefreshToken: "rt-1", Role: session.RoleAdmin,
	}))

	profile, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-1", gotAuth)
	assert.Equal(t, "ada@example.com", profile.Email)
}

func TestClientNetworkFailure(t *testing.T) {
	store := session.NewMemoryStore().WithLogger(quietLogger{})
	client := session.NewClient(testConfig("http://127.0.0.1:1"), store,
		session.WithClientLogger(quietLogger{}),
	)

	_, err := client.CurrentUserNoRefresh(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsNetworkError(err))
}

func TestClientUpdatePassword(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/user/update-password", r.URL.Path)

		payload := map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "old", payload["old_password"])
		require.Equal(t, "new", payload["new_password"])
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, store.Save(context.Background(), &session.Credentials{
		AccessToken: "at-1", RefreshToken: "rt-1", Role: session.RoleAdmin,
	}))

	require.NoError(t, client.UpdatePassword(context.Background(), "old", "new"))
}

func TestClientUpdateProfile(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/user/update-account-details", r.URL.Path)

		updated := testProfile()
		updated.FullName = "Ada King"
		json.NewEncoder(w).Encode(updated)
	}))

	require.NoError(t, store.Save(context.Background(), &session.Credentials{
		AccessToken: "at-1", RefreshToken: "rt-1", Role: session.RoleAdmin,
	}))

	name := "Ada King"
	profile, err := client.UpdateProfile(context.Background(), session.ProfilePatch{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ada King", profile.FullName)
}
