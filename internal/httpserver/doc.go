// Package httpserver exposes authcore.Engine over HTTP with echo.
//
// Public routes live under /auth. Routes under /security require a bearer
// token; the Engine itself rejects non-privileged callers so those attempts
// are logged as security events. Every error response is
// {"error": "<code>"} with the status from authcore.PublicError.
package httpserver
