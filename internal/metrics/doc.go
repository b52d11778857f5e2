// Package metrics provides lock-free counters and a latency histogram for
// authcore observability.
//
// Counters are cache-line-padded uint64 slots incremented with
// [sync/atomic.AddUint64]. The validate-latency histogram uses 8 fixed
// buckets (5ms up to +Inf). Exporters in metrics/export read [Snapshot]
// values; this package performs no I/O and imports no sibling package.
package metrics
