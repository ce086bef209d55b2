package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput is returned when tool output does not have the shape
// an operation expects.
var ErrMalformedOutput = errors.New("malformed tool output")

// ValidateParseFailure is the message reported when validate output is not
// the expected JSON document.
const ValidateParseFailure = "failed to parse validate output as JSON"

// Pos is a position in a configuration file.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Byte   int `json:"byte"`
}

// Range locates a diagnostic in a configuration file.
type Range struct {
	Filename string `json:"filename"`
	Start    Pos    `json:"start"`
	End      Pos    `json:"end"`
}

// Diagnostic is one error or warning reported by validate.
type Diagnostic struct {
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail,omitempty"`
	Range    *Range `json:"range,omitempty"`
}

// Validation is the decoded `validate -json` document.
type Validation struct {
	Valid        bool         `json:"valid"`
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
}

// Errors returns the diagnostics with severity "error".
func (v *Validation) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range v.Diagnostics {
		if d.Severity == "error" {
			out = append(out, d)
		}
	}
	return out
}

// ParseValidate decodes validate JSON output. Any decode failure is
// reported as ErrMalformedOutput.
func ParseValidate(text string) (*Validation, error) {
	var v struct {
		Valid        *bool        `json:"valid"`
		ErrorCount   int          `json:"error_count"`
		WarningCount int          `json:"warning_count"`
		Diagnostics  []Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if v.Valid == nil {
		return nil, fmt.Errorf("%w: missing \"valid\" field", ErrMalformedOutput)
	}
	return &Validation{
		Valid:        *v.Valid,
		ErrorCount:   v.ErrorCount,
		WarningCount: v.WarningCount,
		Diagnostics:  v.Diagnostics,
	}, nil
}

// extractJSON trims anything printed before the first '{' or after the
// last '}', such as deprecation banners some tool versions emit.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
