// Package internal holds helpers private to authcore.
//
// # Sub-packages
//
//   - audit: async security event dispatch and the event model
//   - httpserver: echo routes used by cmd/authcore-server
//   - limiters: per-identifier failure tracking and lockout
//   - logging: slog construction and context plumbing
//   - metrics: lock-free counters and the validate latency histogram
//   - rate: sliding-window admission per client and class
//   - stores: the gorm-backed user store
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API except through aliases.
package internal
