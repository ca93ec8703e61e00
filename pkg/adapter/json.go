package adapter

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONObject extracts a JSON object from model output, tolerating
// markdown code fences and surrounding prose. Returns nil when no
// object can be decoded.
func parseJSONObject(raw string) map[string]any {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj
	}

	if m := jsonObjectPattern.FindString(s); m != "" {
		if err := json.Unmarshal([]byte(m), &obj); err == nil {
			return obj
		}
	}

	return nil
}
