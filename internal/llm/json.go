package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var ErrNoJSON = errors.New("llm: no JSON value in response")

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// ExtractJSON finds the JSON payload in model output. A fenced code block is
// tried first; otherwise the first '{' or '[' starts a span that ends when
// that bracket type balances. Brackets inside strings are not special.
func ExtractJSON(text string) (json.RawMessage, bool) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}

// DecodeJSON extracts and unmarshals the payload into v.
func DecodeJSON(text string, v any) error {
	raw, ok := ExtractJSON(text)
	if !ok {
		return ErrNoJSON
	}
	return json.Unmarshal(raw, v)
}
