// Package password implements credential hashing, verification, and strength policy.
//
// # Output format
//
// Hashes are standard bcrypt strings ($2a$/$2b$ with an embedded cost and a
// per-hash random salt). [Bcrypt.NeedsUpgrade] reports hashes produced with a
// different cost so the caller can re-hash after the next successful login.
//
// # Concurrency
//
// Hashing is CPU-bound. Every Hash, Verify, and Dummy call runs on a bounded pool
// of Config.Workers slots and is bounded by Config.Timeout. A single verification
// always runs on one goroutine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
