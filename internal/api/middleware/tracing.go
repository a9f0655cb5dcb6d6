// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/thumbgate/thumbgate/internal/telemetry"
)

// Tracing creates a middleware that wraps each request in an OpenTelemetry
// server span, continuing any W3C trace context carried by the caller.
func Tracing(tracerName string) func(http.Handler) http.Handler {
	tracer := telemetry.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			// Never put query values in traces; tokens may travel there.
			urlLabel := r.URL.Path
			if r.URL.RawQuery != "" {
				urlLabel += "?"
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			// The matched route pattern is only known after routing. Rename
			// the span so /o/* collapses every cached object into one name.
			route := r.URL.Path
			if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
				if pattern := routeCtx.RoutePattern(); pattern != "" {
					route = pattern
					span.SetName(r.Method + " " + route)
				}
			}

			statusCode := ww.Status()
			attrs := telemetry.HTTPAttributes(r.Method, route, urlLabel, statusCode)
			if reqID := ww.Header().Get(HeaderRequestID); reqID != "" {
				attrs = append(attrs, attribute.String("http.request_id", reqID))
			}
			span.SetAttributes(attrs...)

			// 5xx marks the span failed; 4xx stays Ok so client mistakes do
			// not pollute the error signal.
			if statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}
