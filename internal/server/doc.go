// Package server provides the HTTP surface of the long running serve
// process: Prometheus metrics and health probes.
//
// # Key Components
//
// ServerContext carries the process lifetime and the credential status
// reporter (the credential manager).
//
// HealthChecker serves /healthz (liveness), /readyz (readiness) and
// /healthz/detailed. Readiness fails while no usable Google credentials are
// stored, so a supervisor can surface that the user must run
// "jarvis auth login".
//
// MetricsServer exposes /metrics through promhttp when the instrumentation
// provider exports to Prometheus, plus the health endpoints. It binds to
// loopback by default.
package server
