// Package rate implements per-client sliding-window admission control.
//
// # Window semantics
//
// Each (class, key) pair owns a log of request timestamps covering the last
// Window. Every request is appended, admitted or not, so a rejected client
// cannot reset its budget by retrying. A request is admitted while the log holds
// at most Limit entries. RetryAfter names the earliest instant at which one more
// request would be admitted, bounded by Window.
//
// Key prefix:
//   - rl:<class>:<key>  sorted set of timestamps (ms) per client
//
// # What this package must NOT do
//
//   - Decide which key identifies a client. Callers pass an IP or identity.
//   - Be imported outside the authcore module.
package rate
