package decompose

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedArray = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(\\[.*?\\])\\s*```")

// ExtractArray finds the JSON array in a model response. A fenced code
// block wins over a bare array embedded in prose.
func ExtractArray(text string) ([]any, error) {
	text = strings.TrimSpace(text)

	candidates := []string{stripFences(text)}
	if m := fencedArray.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	for _, c := range candidates {
		var items []any
		if err := json.Unmarshal([]byte(c), &items); err == nil {
			return items, nil
		}
	}

	if items, ok := scanArray(text); ok {
		return items, nil
	}
	return nil, &ValidationError{Msg: "no JSON array in response"}
}

// scanArray tries to decode an array at every '[' in text. Brackets in the
// surrounding prose fail to decode and are passed over. An array of objects
// is preferred to the first array found.
func scanArray(text string) ([]any, bool) {
	var first []any
	found := false
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		var items []any
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&items); err != nil {
			continue
		}
		if allObjects(items) {
			return items, true
		}
		if !found {
			first, found = items, true
		}
	}
	return first, found
}

func allObjects(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if _, ok := it.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// stripFences removes a markdown code fence wrapping the whole text
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
