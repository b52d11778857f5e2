// Package prometheus serves authcore engine metrics in the Prometheus text
// exposition format.
//
// Counters are named authcore_*_total. The validate latency histogram is
// authcore_validate_latency_seconds and appears only when latency
// histograms are enabled on the engine.
//
// # What this package must NOT do
//
//   - Register anything in a global registry. Callers mount [Exporter.Handler].
//   - Mutate engine state.
package prometheus
