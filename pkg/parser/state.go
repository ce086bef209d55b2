package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseStateList returns one address per non-empty line, in order.
func ParseStateList(text string) []string {
	return nonEmptyLines(text)
}

// ParseOutput decodes `output -json`. Plain output (a single value printed
// without -json) is returned as a string.
func ParseOutput(text string, isJSON bool) (interface{}, error) {
	if !isJSON {
		return strings.TrimRight(text, "\r\n"), nil
	}

	var data interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return data, nil
}

// ParseFmt returns the files fmt reported as reformatted or needing
// reformatting.
func ParseFmt(text string) []string {
	return nonEmptyLines(text)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range splitLines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
