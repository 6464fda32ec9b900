package repository

import "strings"

// sensitiveMetaKeys are metadata keys whose values never reach audit rows.
// Matching is case-insensitive on key substrings.
var sensitiveMetaKeys = []string{
	"authorization",
	"token",
	"secret",
	"password",
	"api_key",
	"apikey",
	"cookie",
	"signature",
	"private_key",
}

const redactedPlaceholder = "[REDACTED]"

// RedactMeta returns a copy of the metadata map with sensitive values
// replaced. Nested maps are redacted recursively.
func RedactMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactMeta(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveMetaKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
