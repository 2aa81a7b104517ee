package logging

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
)

func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Level, event.Fields) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(value any) string {
	if value == nil {
		return "<nil>"
	}
	if pretty, ok := prettyJSONString(value); ok {
		return pretty
	}
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", value)
}

func marshalPrettyJSON(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// prettyJSONString reports whether value is (or textually contains only) a
// JSON object or array and returns it indented. Scalars and plain text are
// rejected so they stay inline.
func prettyJSONString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case Secret:
		return "", false
	case error:
		return jsonContainerText(v.Error())
	case string:
		return jsonContainerText(v)
	case []byte:
		return jsonContainerText(string(v))
	case encoding.TextMarshaler:
		if text, err := v.MarshalText(); err == nil {
			return jsonContainerText(string(text))
		}
		return "", false
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if out, err := marshalPrettyJSON(rv.Interface()); err == nil {
			return out, true
		}
	}
	return "", false
}

func jsonContainerText(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return "", false
	}
	out, err := marshalPrettyJSON(decoded)
	if err != nil {
		return "", false
	}
	return out, true
}

// orderedFieldKeys sorts inline fields first, then JSON blocks, with payload
// style blocks last so the short context stays on the header line.
func orderedFieldKeys(_ slog.Level, fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rank := func(key string) int {
		if _, ok := prettyJSONString(fields[key]); !ok {
			return 0
		}
		if isPayloadFieldKey(key) {
			return 2
		}
		return 1
	}
	sort.SliceStable(keys, func(i, j int) bool { return rank(keys[i]) < rank(keys[j]) })
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "data", "frame":
		return true
	default:
		return false
	}
}
