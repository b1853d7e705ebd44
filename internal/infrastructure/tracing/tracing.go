// Package tracing provides the OpenTelemetry span helpers the Runner and
// Post-processor use to wrap a unit of work and its steps. Unlike the
// teacher's tracing package, this one does not configure an SDK or
// exporter: the core has no network service entrypoint to own that
// lifecycle, so it depends only on the otel API and trusts the host
// process to have installed a global TracerProvider (or leaves spans as
// no-ops when none is installed).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ti-toolbox/tit-core"

// StartSpan starts a span named name under the global TracerProvider,
// tagged with attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndWithError records err (if non-nil) on span and sets the span status
// accordingly before ending it. Callers defer this immediately after
// StartSpan: `ctx, span := tracing.StartSpan(...); defer tracing.EndWithError(span, &err)`.
func EndWithError(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}
