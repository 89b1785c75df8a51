package audit

import "strings"

// RedactionMarker replaces sensitive values before persistence.
const RedactionMarker = "[REDACTED]"

// sensitiveFields is the denylist of payload field-name fragments whose
// values must never reach the audit table.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"private_key",
	"secret_key",
	"api_key",
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, f := range sensitiveFields {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// Redact returns a copy of payload with sensitive field values replaced
// by the redaction marker. Nested maps and slices are walked; all other
// values pass through untouched. The input is never mutated.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if isSensitiveField(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
