// Package telemetry holds the process-wide OpenTelemetry setup.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Propagator carries W3C trace context and baggage across HTTP and NATS hops.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Setup installs Propagator globally. Without it otel propagates nothing.
func Setup() {
	otel.SetTextMapPropagator(Propagator())
}
