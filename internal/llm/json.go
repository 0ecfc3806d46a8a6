package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// StripFences removes a markdown code fence wrapper from a model
// response. Models frequently wrap JSON output in ```json blocks even
// when told not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON strips fences and unmarshals the result into v.
func DecodeJSON(s string, v any) error {
	return json.Unmarshal([]byte(StripFences(s)), v)
}

// Score parses a confidence field that models emit as a JSON number or
// a numeric string. Unparseable values return the fallback; parseable
// values clamp to [0, 1].
func Score(raw json.RawMessage, fallback float64) float64 {
	if len(raw) == 0 {
		return fallback
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fallback
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	}

	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
