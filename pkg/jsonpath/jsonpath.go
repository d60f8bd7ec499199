// Package jsonpath extracts values from JSON documents with a small subset of
// JSONPath ($.a.b, $.items[0].id, $['key']), evaluated by gjson.
package jsonpath

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract returns the value at path in doc as a string. Objects and arrays
// are returned as raw JSON, null as "null".
func Extract(doc []byte, path string) (string, error) {
	if len(doc) == 0 {
		return "", fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return "", fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.ValidBytes(doc) {
		return "", fmt.Errorf("invalid JSON document")
	}

	result := gjson.GetBytes(doc, toGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractAll extracts every named path from doc. On failure it returns the
// values that could be extracted along with an error naming the others.
func ExtractAll(doc []byte, paths map[string]string) (map[string]string, error) {
	values := make(map[string]string, len(paths))
	var failed []string

	for name, path := range paths {
		v, err := Extract(doc, path)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		values[name] = v
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return values, fmt.Errorf("extraction errors: %s", strings.Join(failed, "; "))
	}
	return values, nil
}

// toGjsonPath converts $.users[0]['first name'] into gjson's users.0.first name.
func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var sb strings.Builder
	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				sb.WriteString(path[i:])
				return sb.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(key)
			i += end
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
