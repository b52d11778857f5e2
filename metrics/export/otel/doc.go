// Package otel binds authcore engine metrics to an OpenTelemetry Meter.
//
// [New] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket, all fed by one callback that
// reads the engine snapshot on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
