package webhookutils

import (
	"net/http"
	"strings"
)

// GetHeaderCaseInsensitive retrieves a header value using case-insensitive key matching.
// Go canonicalizes header keys (X-GitHub-Event becomes X-Github-Event), so
// exact string matches on a flattened map can fail.
func GetHeaderCaseInsensitive(headers map[string]string, key string) (string, bool) {
	keyLower := strings.ToLower(key)
	for k, v := range headers {
		if strings.ToLower(k) == keyLower {
			return v, true
		}
	}
	return "", false
}

// Flatten keeps the first value of every header.
func Flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
