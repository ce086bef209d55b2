package parser

import "regexp"

// Counts are the resource totals reported by apply or destroy.
type Counts struct {
	Added     int `json:"added"`
	Changed   int `json:"changed"`
	Destroyed int `json:"destroyed"`
}

var (
	applyCountsRe   = regexp.MustCompile(`(\d+) added, (\d+) changed, (\d+) destroyed`)
	destroyCountsRe = regexp.MustCompile(`Resources: (\d+) destroyed`)
)

// ParseApply extracts "N added, N changed, N destroyed" from apply output.
// It returns nil when the pattern is absent; that is not a failure.
func ParseApply(text string) *Counts {
	m := applyCountsRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &Counts{
		Added:     atoi(m[1]),
		Changed:   atoi(m[2]),
		Destroyed: atoi(m[3]),
	}
}

// ParseDestroy extracts the destroyed count from destroy output. Output in
// apply form ("0 added, 0 changed, 2 destroyed") is accepted too.
func ParseDestroy(text string) *Counts {
	if c := ParseApply(text); c != nil {
		return c
	}
	m := destroyCountsRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &Counts{Destroyed: atoi(m[1])}
}
