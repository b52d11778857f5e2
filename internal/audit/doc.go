// Package audit defines the security event model and its asynchronous
// delivery path.
//
// # Components
//
//   - [Event]: immutable record with category, severity, subject and source.
//   - [Sink] and [Store]: write side and queryable side of an event log.
//   - [Filter]: query constraints, newest-first with a bounded limit.
//   - [Dispatcher]: buffered single-consumer relay that numbers events at
//     Emit, so per-identity order survives the hop to storage.
//
// The package does not decide which events to emit. Sink failures are logged
// and counted; they are never returned to the caller of Emit.
package audit
