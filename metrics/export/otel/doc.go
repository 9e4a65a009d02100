// Package otel binds engine metrics to an OpenTelemetry Meter.
//
// [Register] observes a [Source] from one meter callback. Counters become
// Int64ObservableCounter instruments under their goidentity_*_total names.
// The delivery latency histogram becomes a cumulative bucket gauge carrying
// an le attribute plus a count gauge, which keeps the series shape of the
// Prometheus collector. The caller owns the MeterProvider and its reader;
// cmd/goidentity pushes it over OTLP gRPC when GOIDENTITY_OTLP_ENDPOINT is
// set.
package otel
