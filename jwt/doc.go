// Package jwt mints and verifies short-lived access tokens.
//
// Tokens carry the subject, role, and refresh family of a login. Verification is
// stateless: a token is accepted until its exp claim regardless of later
// revocation, so lifetimes stay short and revocation happens at the refresh
// layer. Every token's lifetime is capped below the remaining lifetime of the
// refresh token it was minted with.
package jwt
