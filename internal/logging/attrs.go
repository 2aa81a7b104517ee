package logging

import (
	"log/slog"
	"strings"
)

// Secret wraps a credential so it can be passed as a log field without
// leaking its value.
type Secret string

func (s Secret) String() string {
	return Redact(string(s))
}

// Redact keeps a short prefix of a secret so operators can tell two tokens
// apart without being able to use them.
func Redact(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "<empty>"
	case len(value) <= 8:
		return "[redacted]"
	default:
		return value[:4] + "…[redacted]"
	}
}

// secretKeys are field names whose plain string values are redacted even
// when the caller forgot to wrap them in Secret.
var secretKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"service_key":   true,
	"webhook_url":   true,
}

// fieldValue resolves one attribute. Secrets never leave this function in
// clear text, so the file sink, the terminal and subscribers all see the
// redacted form.
func fieldValue(key string, value slog.Value) any {
	if value.Kind() == slog.KindGroup {
		inner := map[string]any{}
		for _, attr := range value.Group() {
			if attr.Key != "" {
				inner[attr.Key] = fieldValue(attr.Key, attr.Value.Resolve())
			}
		}
		return inner
	}
	switch v := value.Any().(type) {
	case Secret:
		return v.String()
	case string:
		if secretKeys[strings.ToLower(key)] {
			return Redact(v)
		}
		return v
	default:
		return v
	}
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	values := map[string]any{}
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		values[attr.Key] = fieldValue(attr.Key, attr.Value.Resolve())
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
