package session

import (
	"context"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"golang.org/x/sync/singleflight"
)

// RefreshPolicy decides how a refresh attempt triggered by one failing call
// relates to attempts triggered by others in flight at the same time.
type RefreshPolicy interface {
	Execute(ctx context.Context, refresh func(context.Context) error) error
}

// PerCallRefresh runs an independent refresh for every failing call. This
// matches the reference behavior: N concurrent 401s produce N refresh
// calls. Wasteful under bursts, but each caller's outcome depends only on
// its own refresh.
type PerCallRefresh struct{}

func (PerCallRefresh) Execute(ctx context.Context, refresh func(context.Context) error) error {
	return refresh(ctx)
}

// CoalescedRefresh lets concurrent failing calls share a single in-flight
// refresh; late arrivals wait on the leader's result instead of issuing
// their own call.
type CoalescedRefresh struct {
	group singleflight.Group
}

func NewCoalescedRefresh() *CoalescedRefresh {
	return &CoalescedRefresh{}
}

func (c *CoalescedRefresh) Execute(ctx context.Context, refresh func(context.Context) error) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, refresh(ctx)
	})
	return err
}

// doWithRefresh wraps one authenticated operation with the refresh
// protocol. The retry budget lives in this invocation: op runs at most
// twice, so a backend that keeps rejecting fresh tokens cannot cause a
// loop. When the refresh itself fails the session is torn down and the
// caller receives the refresh failure, not the original 401.
func (c *Client) doWithRefresh(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !IsUnauthenticatedError(err) {
		return err
	}

	if rerr := c.policy.Execute(ctx, c.refreshTokens); rerr != nil {
		c.escalateSessionExpiry(ctx, rerr)
		return rerr
	}

	return op(ctx)
}

// refreshTokens exchanges the stored refresh token for a new token pair and
// overwrites the credential record in place, preserving the role.
func (c *Client) refreshTokens(ctx context.Context) error {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	if creds.RefreshToken == "" {
		return ErrRefreshInvalid.Clone().WithMetadata(map[string]any{
			"reason": "no refresh token stored",
		})
	}

	payload := map[string]string{
		"refresh_token": creds.RefreshToken,
	}

	pair := &TokenPair{}
	if err := c.do(ctx, http.MethodPost, routeRefreshToken, payload, pair, false); err != nil {
		c.recordRefreshEvent(ctx, ActivityEventRefreshFailure, map[string]any{
			"error": err.Error(),
		})

		if IsUnauthenticatedError(err) {
			return ErrRefreshInvalid.Clone().WithMetadata(map[string]any{
				"reason": "refresh token rejected by server",
			})
		}
		return err
	}

	next := &Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Role:         creds.Role,
	}

	if err := c.store.Save(ctx, next); err != nil {
		return err
	}

	c.recordRefreshEvent(ctx, ActivityEventRefreshSuccess, nil)
	return nil
}

// escalateSessionExpiry purges the credential record and hands the session
// consequence to the configured hook. This runs whether or not the failing
// caller handles its rejected operation.
func (c *Client) escalateSessionExpiry(ctx context.Context, cause error) {
	c.logger.Info("session expired, purging credentials: %v", cause)

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("could not purge credential record: %v", err)
	}

	var richErr *goerrors.Error
	if goerrors.As(cause, &richErr) {
		c.logger.Debug(
			"forced logout detail: %s",
			print.MaybePrettyJSON(richErr.Metadata),
		)
	}

	c.recordRefreshEvent(ctx, ActivityEventForcedLogout, map[string]any{
		"cause": cause.Error(),
	})

	if c.onSessionExpired != nil {
		c.onSessionExpired(cause)
	}
}

func (c *Client) recordRefreshEvent(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	sink := normalizeActivitySink(c.activitySink)
	event := newActivityEvent(eventType, ActorRef{Type: "client"}, "", metadata)

	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}
