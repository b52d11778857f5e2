// Package limiters implements the per-identity login failure tracker and its
// lockout state machine.
//
// # States
//
//   - [StateOpen]    no recorded failures.
//   - [StateWarning] 1 <= failures < threshold.
//   - [StateLocked]  failures reached the threshold; locked until now+duration.
//
// Checks against a locked identity never increment the counter. The first check
// after the lock expires clears the record and reports Open.
//
// # Backends
//
//   - [LockoutLimiter] keeps state in Redis; each transition is one Lua script,
//     so the threshold holds across every instance sharing the Redis.
//   - [MemoryLockout] keeps state in process memory for single-instance
//     deployments and tests.
//
// Counting is per identity, never per source address.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Decide what a lockout means for the caller. Flow code in the engine does that.
package limiters
