// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// meterName scopes every instrument the gateway emits over OTLP.
const meterName = "thumbgate"

// EmitCacheObs annotates the active span with a cache serving decision
// and counts it on the global meter. The provider is looked up per call,
// so late provider installation is picked up and a noop provider makes
// this free.
func EmitCacheObs(ctx context.Context, key, outcome, mode string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(CacheAttributes(key, outcome, mode)...)

	meter := otel.GetMeterProvider().Meter(meterName)
	decisionTotal, _ := meter.Int64Counter("thumbgate_cache_decision_total",
		metric.WithDescription("Cache serving decisions by outcome"))
	decisionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	))
}

// EmitVerifyObs annotates the active span with a finished verification
// run and counts its overall status.
func EmitVerifyObs(ctx context.Context, runID, overall, trigger string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(VerifyAttributes(runID, overall)...)

	meter := otel.GetMeterProvider().Meter(meterName)
	outcomeTotal, _ := meter.Int64Counter("thumbgate_verify_outcome_total",
		metric.WithDescription("Verification run outcomes"))
	outcomeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("overall", overall),
		attribute.String("trigger", trigger),
	))
}
