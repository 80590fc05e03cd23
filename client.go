package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Identity service endpoints.
const (
	routeRegister       = "/user/register"
	routeLogin          = "/user/login"
	routeLogout         = "/user/logout"
	routeCurrentUser    = "/user/get-user"
	routeRefreshToken   = "/user/refresh-token"
	routeUpdateAccount  = "/user/update-account-details"
	routeUpdatePassword = "/user/update-password"
)

var _ IdentityClient = &Client{}

// Client performs identity operations against the backing service and owns
// the retry-once token refresh protocol. It is the only writer of the
// credential record besides sibling client instances.
type Client struct {
	baseURL          string
	httpc            *http.Client
	store            Store
	logger           Logger
	policy           RefreshPolicy
	activitySink     ActivitySink
	onSessionExpired func(reason error)
}

// ClientOption customizes Client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithClientLogger overrides the default logger.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRefreshPolicy swaps how concurrent refresh attempts are handled.
// The default, PerCallRefresh, lets every failing call run its own refresh.
func WithRefreshPolicy(policy RefreshPolicy) ClientOption {
	return func(c *Client) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// WithClientActivitySink configures an ActivitySink for refresh events.
func WithClientActivitySink(sink ActivitySink) ClientOption {
	return func(c *Client) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionExpiredHandler sets the hook invoked after a failed refresh
// has purged the credential record. The Manager uses it to reset state and
// navigate to the login entry point.
func WithSessionExpiredHandler(fn func(reason error)) ClientOption {
	return func(c *Client) {
		c.onSessionExpired = fn
	}
}

// NewClient returns a new identity Client bound to store.
func NewClient(cfg Config, store Store, opts ...ClientOption) *Client {
	client := &Client{
		baseURL:      cfg.GetBaseURL(),
		httpc:        &http.Client{Timeout: cfg.GetRequestTimeout()},
		store:        store,
		logger:       defLogger{},
		policy:       PerCallRefresh{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client
}

// Register creates a new identity. The draft is validated locally before
// the request goes out; server-side validation detail is surfaced as-is.
func (c *Client) Register(ctx context.Context, draft ProfileDraft) (*UserProfile, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	profile := &UserProfile{}
	if err := c.do(ctx, http.MethodPost, routeRegister, draft, profile, false); err != nil {
		return nil, err
	}

	return profile, nil
}

// Login exchanges credentials for a token pair and profile. Writing the
// credential record and session state is the caller's job.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	result := &LoginResult{}
	if err := c.do(ctx, http.MethodPost, routeLogin, payload, result, false); err != nil {
		if IsUnauthenticatedError(err) {
			return nil, ErrInvalidCredentials.Clone().WithMetadata(map[string]any{
				"email": email,
			})
		}
		return nil, err
	}

	return result, nil
}

// Logout notifies the server best-effort. Callers must purge local state
// regardless of the returned error.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, routeLogout, nil, nil, true)
}

// CurrentUser fetches the profile bound to the current access token,
// refreshing once on an unauthenticated response.
func (c *Client) CurrentUser(ctx context.Context) (*UserProfile, error) {
	profile := &UserProfile{}
	err := c.doWithRefresh(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, routeCurrentUser, nil, profile, true)
	})

	if err != nil {
		return nil, err
	}

	return profile, nil
}

// CurrentUserNoRefresh is the single-attempt variant used by the cross-tab
// synchronizer, which must not escalate transient failures into a forced
// logout.
func (c *Client) CurrentUserNoRefresh(ctx context.Context) (*UserProfile, error) {
	profile := &UserProfile{}
	if err := c.do(ctx, http.MethodGet, routeCurrentUser, nil, profile, true); err != nil {
		return nil, err
	}

	return profile, nil
}

// UpdateProfile applies a partial profile update.
func (c *Client) UpdateProfile(ctx context.Context, patch ProfilePatch) (*UserProfile, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	profile := &UserProfile{}
	err := c.doWithRefresh(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPatch, routeUpdateAccount, patch, profile, true)
	})

	if err != nil {
		return nil, err
	}

	return profile, nil
}

// UpdatePassword rotates the account password.
func (c *Client) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	payload := map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	}

	return c.doWithRefresh(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPatch, routeUpdatePassword, payload, nil, true)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		if err := c.attachBearer(ctx, req); err != nil {
			return err
		}
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return ErrNetwork.Clone().WithMetadata(map[string]any{
			"path":  path,
			"cause": err.Error(),
		})
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "could not decode response").
				WithMetadata(map[string]any{"path": path})
		}
		return nil
	}

	return c.statusError(res, path)
}

func (c *Client) attachBearer(ctx context.Context, req *http.Request) error {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	if creds.HasSession() {
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	return nil
}

func (c *Client) statusError(res *http.Response, path string) error {
	detail := decodeErrorDetail(res.Body)
	metadata := map[string]any{
		"path":   path,
		"status": res.StatusCode,
	}
	if detail != "" {
		metadata["detail"] = detail
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated.Clone().WithMetadata(metadata)
	case res.StatusCode == http.StatusConflict:
		return ErrConflict.Clone().WithMetadata(metadata)
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return ErrValidation.Clone().WithMetadata(metadata)
	default:
		return goerrors.New(
			fmt.Sprintf("identity service returned %d", res.StatusCode),
			goerrors.CategoryInternal,
		).WithCode(goerrors.CodeInternal).WithMetadata(metadata)
	}
}

func decodeErrorDetail(body io.Reader) string {
	payload := struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}{}

	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return ""
	}

	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
