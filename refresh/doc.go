// Package refresh implements the rotating refresh-token registry.
//
// # Token format
//
// Opaque base64url tokens of 48 bytes: a 16-byte record id followed by a 32-byte
// random secret. Registries store only sha256(secret), never the token itself.
//
// # Families
//
// A login creates a family. Every rotation revokes the presented record and
// creates its successor in the same family in one atomic step. Presenting a
// record that was already revoked reports [OutcomeReused] and revokes the whole
// family, because only a copied token can be presented twice. An expired record
// reports [OutcomeExpired] and also closes its family.
//
// # Backends
//
//   - [RedisRegistry] runs every state change as a Lua script.
//     Key layout: rt:<id> record hash, rf:<family> id set, ru:<user> family set,
//     rx expiry index.
//   - [GormRegistry] runs every state change in a SQL transaction holding a row lock.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or any audit package.
//   - Retry failed writes. Only [Sweeper] repeats work, and Sweep is idempotent.
package refresh
