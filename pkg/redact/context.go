package redact

import "strings"

// sensitiveKeyFragments are matched case-insensitively against map keys and
// header names. Any key containing one of these fragments has its value
// replaced before logging.
var sensitiveKeyFragments = []string{
	"token", "secret", "authorization", "api-key", "api_key", "cookie",
	"password", "credential",
}

const maskedValue = "[redacted]"

// SensitiveKey reports whether a key name refers to sensitive data.
func SensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// SanitizeContext returns a deep copy of ctx with values under sensitive
// keys replaced. Nested maps and slices are walked; other values are kept
// as-is. Use on any dynamic context before attaching it to a log record or
// error report.
func SanitizeContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if SensitiveKey(k) {
			out[k] = maskedValue
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return SanitizeContext(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeHeaders returns a copy of headers with sensitive values masked.
// Intended for request logging.
func SanitizeHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, vs := range headers {
		if SensitiveKey(k) {
			out[k] = []string{maskedValue}
			continue
		}
		out[k] = vs
	}
	return out
}
