package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ExtractJSON returns the first top-level JSON object embedded in text.
// Models frequently wrap their payload in prose or markdown fences; the
// scan tolerates both. An error means no balanced object was found.
func ExtractJSON(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				var m map[string]any
				if err := json.Unmarshal([]byte(text[start:i+1]), &m); err != nil {
					return nil, fmt.Errorf("malformed JSON object: %w", err)
				}
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object in model output")
}

// DecodePayload extracts the first JSON object from text and decodes it
// into target. Decoding is weakly typed so "7" satisfies a float field and
// unknown keys are ignored; that keeps a sloppy-but-parseable payload out
// of the Invalid error path.
func DecodePayload(text string, target any) error {
	m, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return DecodeMap(m, target)
}

// DecodeMap decodes an untyped map into target with weak typing.
func DecodeMap(m map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("payload does not match declared shape: %w", err)
	}
	return nil
}
