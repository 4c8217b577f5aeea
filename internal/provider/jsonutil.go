package provider

import (
	"encoding/json"
	"errors"
	"strings"

	"call-assist-go/internal/errs"
	"call-assist-go/internal/types"
)

// parseExtraction decodes model output into ExtractedInfo, tolerating markdown
// fences and chatter around the JSON object.
func parseExtraction(provider, raw string) (types.ExtractedInfo, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return types.ExtractedInfo{}, &errs.ParseError{Provider: provider, Raw: raw, Err: errors.New("no JSON object in output")}
	}
	var info types.ExtractedInfo
	if err := json.Unmarshal([]byte(candidate), &info); err != nil {
		return types.ExtractedInfo{}, &errs.ParseError{Provider: provider, Raw: raw, Err: err}
	}
	return info, nil
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
