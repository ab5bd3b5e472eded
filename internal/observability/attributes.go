// Package observability provides metrics for the producer and consumer services.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrOutcome = "outcome"
	attrDurable = "durable"
)

// Consumer message outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeFault     = "fault"
	OutcomeError     = "error"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func durableAttr(durable bool) attribute.KeyValue {
	return attribute.Bool(attrDurable, durable)
}

// keyedPrefixes are routes whose last segment is a caller-chosen key.
var keyedPrefixes = []string{"/api/log/", "/v1/counters/"}

// normalizePath replaces key path segments with a placeholder to bound cardinality.
func normalizePath(path string) string {
	for _, prefix := range keyedPrefixes {
		if len(path) > len(prefix) && strings.HasPrefix(path, prefix) {
			return prefix + "{key}"
		}
	}
	return path
}
