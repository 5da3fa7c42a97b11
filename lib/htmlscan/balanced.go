package htmlscan

import (
	"errors"
	"fmt"
)

// ErrUnbalanced is returned when the text ends before the object closes.
var ErrUnbalanced = errors.New("unbalanced json object")

// BalancedObject returns the smallest well-formed JSON object that starts at
// text[start], which must be a '{'. Braces inside string literals are
// ignored, including strings containing escaped quotes.
//
// This exists because pages assign state objects to javascript variables
// (`window.FOO = {...}; somethingElse();`), so the object has to be cut out
// of surrounding code before it can be unmarshaled.
func BalancedObject(text string, start int) (string, error) {
	if start < 0 || start >= len(text) || text[start] != '{' {
		return "", fmt.Errorf("no json object at offset %d", start)
	}
	depth := 0
	inString := false
	escaped := false
	// JSON structural characters are ASCII, so walking bytes is safe even
	// when the text contains multi-byte runes.
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
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrUnbalanced
}
