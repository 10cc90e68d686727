// Package otel publishes authcore counters and the gate latency histogram
// through OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per cumulative histogram bucket. A single callback
// reads [authcore.Engine.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider.
package otel
