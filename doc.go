// Package authcore provides an authentication and account-security engine:
// bcrypt credential verification, short-lived JWT access tokens, rotating
// opaque refresh tokens with reuse detection, per-identifier lockout,
// per-client rate limiting and a queryable security event trail.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the error vocabulary mapped by [PublicError] and value types such as
// [LoginResult] and [SecurityEvent]. Lockout, rate limiting, event dispatch
// and metrics live under internal/. Refresh token storage lives in refresh/
// and event storage in eventlog/ so applications can pick a backend.
//
// # Failure semantics
//
// Login never tells an unknown identifier, a wrong secret, a disabled
// account and a locked identifier apart in its public result. Security
// events are emitted asynchronously; a slow or failing event sink never
// fails an authentication flow. Storage outages surface as
// [ErrStoreUnavailable].
//
// # Hot path
//
// ValidateAccess verifies the access token signature and claims only. It
// performs no storage round-trip.
package authcore
