// Package session manages the client side of an authenticated session
// against a remote identity service: establishing it, validating stored
// credentials on startup, silently refreshing expired access tokens,
// replaying credential changes made by sibling clients, and tearing
// everything down on logout.
//
// Credential store:
//   - Store is the durable, instance-shared persistence for the access
//     token, refresh token, and role. Changes made through one attachment
//     are observable from the others, which is how sibling clients (browser
//     tabs, extra windows, separate processes) stay in sync. MemoryBackend
//     models the shared medium in-process; BunStore persists the record in
//     SQLite via Bun for cross-process setups.
//
// Refresh protocol:
//   - Every authenticated call carries the current access token. When a
//     call comes back unauthenticated, the Client refreshes once and
//     replays the original call with the new token. A failed refresh purges
//     the credential record, resets the State, and invokes the forced
//     logout hook. The retry budget is scoped to the invocation, never
//     shared, so a persistently rejecting backend cannot cause a loop.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter describing login,
//     logout, refresh, bootstrap, and cross-instance replay events. Sinks
//     run best-effort (errors are logged) so you can forward to a database
//     or queue without blocking session transitions.
package session
