// Package middleware adapts authcore.Engine to net/http.
//
// # Handlers
//
//   - [RequestMeta] puts the client IP and User-Agent on the request context.
//     The IP is the direct peer unless a [ProxyTrust] names it as a proxy.
//   - [Guard] validates the bearer access token and stores the AuthResult.
//   - [RequirePrivileged] admits only privileged callers; mount it after Guard.
//   - [WriteError] renders Engine errors through authcore.PublicError.
//
// Locked accounts and bad credentials render identically, as the Engine
// already maps both to the same public code.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs itself.
//   - Touch Redis or the user store.
package middleware
