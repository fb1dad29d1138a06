// Package tracing wires OpenTelemetry spans around the protocol layer's phases.
// Without an installed provider the global no-op tracer is used.
package tracing

// TracerName is the instrumentation scope used by every toolwire span.
const TracerName = "toolwire"
