// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrOperation = "operation"
	attrStep      = "step"
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrKind      = "kind"
	attrSuccess   = "success"
)

func operationAttr(op string) attribute.KeyValue {
	return attribute.String(attrOperation, op)
}

func stepAttr(step string) attribute.KeyValue {
	// Contest steps carry the shortname; fold them to keep cardinality bounded.
	return attribute.String(attrStep, normalizeStep(step))
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func routeAttr(route string) attribute.KeyValue {
	return attribute.String(attrRoute, route)
}

func statusAttr(code int) attribute.KeyValue {
	// 0 means the request never got a response.
	if code == 0 {
		return attribute.String(attrStatus, "error")
	}
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizeStep replaces per-contest step names with a placeholder.
func normalizeStep(step string) string {
	const prefix = "contest_"
	if len(step) > len(prefix) && step[:len(prefix)] == prefix {
		return "contest_{shortname}"
	}
	return step
}
