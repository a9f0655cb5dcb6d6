// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by every span the gateway emits.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Cache attributes
	CacheKeyKey    = "cache.key"
	CacheStatusKey = "cache.status"
	CacheModeKey   = "cache.mode"

	// Origin attributes
	OriginHostKey       = "origin.host"
	OriginStatusCodeKey = "origin.status_code"

	// Job attributes
	JobTypeKey     = "job.type"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	// Verify attributes
	VerifyRunIDKey   = "verify.run_id"
	VerifyOverallKey = "verify.overall"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CacheAttributes creates cache decision span attributes. Empty values
// are omitted.
func CacheAttributes(key, status, mode string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if key != "" {
		attrs = append(attrs, attribute.String(CacheKeyKey, key))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(CacheStatusKey, status))
	}
	if mode != "" {
		attrs = append(attrs, attribute.String(CacheModeKey, mode))
	}
	return attrs
}

// OriginAttributes creates origin fetch span attributes.
func OriginAttributes(host string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(OriginHostKey, host),
		attribute.Int(OriginStatusCodeKey, statusCode),
	}
}

// JobAttributes creates background job span attributes.
func JobAttributes(jobType, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// VerifyAttributes creates verification run span attributes.
func VerifyAttributes(runID, overall string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(VerifyRunIDKey, runID),
		attribute.String(VerifyOverallKey, overall),
	}
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
