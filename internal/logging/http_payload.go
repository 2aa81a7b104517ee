package logging

import (
	"encoding/json"
	"strings"
)

const maxPayloadLogBytes = 4096

// FormatHTTPPayload renders an HTTP body for log output: JSON is indented,
// a JSON-encoded string is unquoted first, anything else is clipped text.
func FormatHTTPPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}
	var quoted string
	if err := json.Unmarshal([]byte(trimmed), &quoted); err == nil {
		trimmed = strings.TrimSpace(quoted)
	}
	if pretty, ok := jsonContainerText(trimmed); ok {
		return pretty
	}
	if len(trimmed) > maxPayloadLogBytes {
		return trimmed[:maxPayloadLogBytes] + "..."
	}
	return trimmed
}
