// Package logutil keeps credentials out of the structured log. Bearer
// credentials and the internal key travel on every request, so anything
// derived from headers or request bodies passes through here first.
package logutil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Redacted replaces the value of every sensitive field.
const Redacted = "[REDACTED]"

var sensitiveFragments = []string{
	"token",
	"secret",
	"password",
	"apikey",
	"internalkey",
	"databasekey",
	"credential",
	"cookie",
	"auth",
}

// IsSensitive reports whether a header, JSON or log attribute key likely
// holds a credential. Matching ignores case, dashes and underscores.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// RedactAttr is a slog ReplaceAttr hook that blanks sensitive attributes.
// Group attributes are left to slog, which calls the hook for each member.
func RedactAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, Redacted)
	}
	return attr
}

// FormatHeaders renders headers as stable "name=value; ..." text with
// sensitive values redacted.
func FormatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := strings.Join(headers.Values(name), ", ")
		if IsSensitive(name) {
			value = Redacted
		}
		parts = append(parts, strings.ToLower(name)+"="+strconv.Quote(value))
	}
	return strings.Join(parts, "; ")
}

// FormatBody renders at most maxBytes of body. JSON bodies have sensitive
// keys redacted at any depth; a JSON-RPC "params" object such as
// {"context":{"authorization":"..."}} is covered by the same walk.
func FormatBody(contentType string, body []byte, maxBytes int, truncated bool) string {
	if len(body) == 0 {
		return ""
	}
	if maxBytes > 0 && len(body) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	text := string(body)
	if strings.Contains(strings.ToLower(contentType), "json") {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			if safe, err := json.Marshal(redactValue(payload)); err == nil {
				text = string(safe)
			}
		}
	}
	if truncated {
		text += " [truncated]"
	}
	return text
}

func redactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitive(k) {
				typed[k] = Redacted
				continue
			}
			typed[k] = redactValue(child)
		}
	case []any:
		for i, child := range typed {
			typed[i] = redactValue(child)
		}
	}
	return v
}
