package pattern

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// Placeholder syntaxes, compiled once at package init.
var (
	capturePlaceholder = regexp.MustCompile(`\$\{(\d+)\}`)
	pathPlaceholder    = regexp.MustCompile(`\$\{path\.(\d+)\}`)
	uuidPlaceholder    = regexp.MustCompile(`\$\{uuid\}`)
	dataPlaceholder    = regexp.MustCompile(`\$\{data\.([^}]+)\}`)
)

// substitute renders one template string. Substitution runs in a fixed
// order, each step operating on the output of the previous one:
//
//  1. ${N}      - Nth extraction capture, 1-indexed, empty if absent
//  2. ${path.I} - Ith path segment of the source key, 0-indexed,
//     empty if absent
//  3. ${uuid}   - a fresh token per occurrence (two placeholders in
//     one template get distinct tokens)
//  4. ${data.K} - textual form of the top-level data field K, only
//     when it is a string or number; otherwise the placeholder is
//     left as-is
func substitute(tpl string, caps []string, segs []string, data any, tokens TokenGenerator) string {
	out := capturePlaceholder.ReplaceAllStringFunc(tpl, func(m string) string {
		n, err := strconv.Atoi(capturePlaceholder.FindStringSubmatch(m)[1])
		if err != nil || n < 1 || n > len(caps) {
			return ""
		}
		return caps[n-1]
	})

	out = pathPlaceholder.ReplaceAllStringFunc(out, func(m string) string {
		i, err := strconv.Atoi(pathPlaceholder.FindStringSubmatch(m)[1])
		if err != nil || i < 0 || i >= len(segs) {
			return ""
		}
		return segs[i]
	})

	out = uuidPlaceholder.ReplaceAllStringFunc(out, func(string) string {
		return tokens.Token()
	})

	out = dataPlaceholder.ReplaceAllStringFunc(out, func(m string) string {
		key := dataPlaceholder.FindStringSubmatch(m)[1]
		obj, ok := data.(map[string]any)
		if !ok {
			return m
		}
		s, ok := fieldText(obj[key])
		if !ok {
			return m
		}
		return s
	})

	return out
}

// fieldText returns the textual form of a top-level data field when it
// is a string or number.
func fieldText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return string(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return "", false
	}
}

// substituteValue renders every string leaf of a JSON template,
// recursing through object keys, object values, and array elements.
// Non-string leaves pass through unchanged.
func substituteValue(tpl any, caps []string, segs []string, data any, tokens TokenGenerator) any {
	switch val := tpl.(type) {
	case string:
		return substitute(val, caps, segs, data, tokens)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[substitute(k, caps, segs, data, tokens)] = substituteValue(v, caps, segs, data, tokens)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = substituteValue(v, caps, segs, data, tokens)
		}
		return out
	default:
		return tpl
	}
}
