package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractedObservation is one element of the model's extraction output.
type ExtractedObservation struct {
	Observation string `json:"observation"`
	MemoryType  string `json:"memory_type"`
	Context     string `json:"context,omitempty"`
	Importance  string `json:"importance,omitempty"`
}

var extractableTypes = map[string]bool{
	"gotcha": true, "bug_fix": true, "decision": true,
	"discovery": true, "trade_off": true,
}

// ParseObservations parses the model's JSON array, tolerating code fences and
// surrounding prose. Elements with an empty observation or unknown
// memory_type are dropped rather than failing the whole batch.
func ParseObservations(raw string) ([]ExtractedObservation, error) {
	jsonText := extractJSONArray(raw)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var parsed []ExtractedObservation
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse observations: %w", err)
	}

	out := make([]ExtractedObservation, 0, len(parsed))
	for _, o := range parsed {
		o.Observation = strings.TrimSpace(o.Observation)
		o.MemoryType = strings.ToLower(strings.TrimSpace(o.MemoryType))
		if o.Observation == "" || !extractableTypes[o.MemoryType] {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ParseClassification normalizes the model's classification reply, falling
// back to "exploration" for anything unrecognized.
func ParseClassification(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	c = strings.Trim(c, `"'.`)
	if ValidClassification(c) {
		return c
	}
	// Models sometimes answer in a sentence; look for a known word.
	for _, known := range Classifications {
		if strings.Contains(c, known) {
			return known
		}
	}
	return "exploration"
}

// ParseYesNo interprets a yes/no reply, defaulting to no.
func ParseYesNo(raw string) bool {
	c := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(c, "yes")
}

// extractJSONArray returns the outermost JSON array in the text, stripping
// markdown code fences first.
func extractJSONArray(raw string) string {
	text := raw
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.Index(text, "[")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
