// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for pmomusicd.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	RendererIDKey = "renderer.id"
	BackendKindKey = "renderer.backend"

	SourceIDKey = "source.id"
	ObjectIDKey = "source.object_id"

	CachePKKey      = "cache.pk"
	CacheNameKey    = "cache.name"
	SOAPActionKey   = "soap.action"
	SOAPServiceKey  = "soap.service_type"

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

// RendererAttributes creates renderer/backend span attributes.
func RendererAttributes(rendererID, backendKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RendererIDKey, rendererID),
		attribute.String(BackendKindKey, backendKind),
	}
}

// SourceAttributes creates source/catalog span attributes.
func SourceAttributes(sourceID, objectID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if sourceID != "" {
		attrs = append(attrs, attribute.String(SourceIDKey, sourceID))
	}
	if objectID != "" {
		attrs = append(attrs, attribute.String(ObjectIDKey, objectID))
	}
	return attrs
}

// CacheAttributes creates cache-layer span attributes.
func CacheAttributes(name, pk string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CacheNameKey, name),
		attribute.String(CachePKKey, pk),
	}
}

// SOAPAttributes creates SOAP dispatch span attributes.
func SOAPAttributes(serviceType, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SOAPServiceKey, serviceType),
		attribute.String(SOAPActionKey, action),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
