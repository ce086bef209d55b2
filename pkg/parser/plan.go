package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Action is the kind of change the tool intends for a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReplace Action = "replace"
)

// PlanChanges buckets resource addresses by action, each in the order the
// tool printed them. Duplicates are kept.
type PlanChanges struct {
	Create  []string `json:"create"`
	Update  []string `json:"update"`
	Delete  []string `json:"delete"`
	Replace []string `json:"replace"`
}

// Total returns the number of entries across all buckets.
func (c PlanChanges) Total() int {
	return len(c.Create) + len(c.Update) + len(c.Delete) + len(c.Replace)
}

// Empty reports whether no change was parsed.
func (c PlanChanges) Empty() bool {
	return c.Total() == 0
}

// ByAction returns the bucket for a.
func (c PlanChanges) ByAction(a Action) []string {
	switch a {
	case ActionCreate:
		return c.Create
	case ActionUpdate:
		return c.Update
	case ActionDelete:
		return c.Delete
	case ActionReplace:
		return c.Replace
	}
	return nil
}

// PlanSummary holds the counts from the "Plan: ..." line.
type PlanSummary struct {
	Add     int `json:"add"`
	Change  int `json:"change"`
	Destroy int `json:"destroy"`
}

// PlanResult is everything extracted from plan output.
type PlanResult struct {
	Changes PlanChanges  `json:"changes"`
	Summary *PlanSummary `json:"summary,omitempty"`
}

// Two-character markers must be tried before their one-character prefixes.
var planMarkers = []struct {
	marker string
	action Action
}{
	{"+/-", ActionReplace},
	{"-/+", ActionReplace},
	{"+", ActionCreate},
	{"~", ActionUpdate},
	{"-", ActionDelete},
}

var planSummaryRe = regexp.MustCompile(`Plan: (\d+) to add, (\d+) to change, (\d+) to destroy`)

// ParsePlan scans plan text line by line. A line whose first non-blank
// token is a change marker followed by whitespace contributes its trimmed
// remainder to that marker's bucket; every other line is ignored.
func ParsePlan(text string) PlanResult {
	var result PlanResult

	for _, line := range splitLines(text) {
		action, address, ok := parsePlanLine(line)
		if !ok {
			continue
		}
		switch action {
		case ActionCreate:
			result.Changes.Create = append(result.Changes.Create, address)
		case ActionUpdate:
			result.Changes.Update = append(result.Changes.Update, address)
		case ActionDelete:
			result.Changes.Delete = append(result.Changes.Delete, address)
		case ActionReplace:
			result.Changes.Replace = append(result.Changes.Replace, address)
		}
	}

	if m := planSummaryRe.FindStringSubmatch(text); m != nil {
		result.Summary = &PlanSummary{
			Add:     atoi(m[1]),
			Change:  atoi(m[2]),
			Destroy: atoi(m[3]),
		}
	}

	return result
}

func parsePlanLine(line string) (Action, string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, m := range planMarkers {
		if !strings.HasPrefix(trimmed, m.marker) {
			continue
		}
		rest := trimmed[len(m.marker):]
		address := strings.TrimSpace(rest)
		if address == "" {
			return "", "", false
		}
		// "+/-" is matched before "+". Without a separator a second marker
		// character means a rule such as "-----", not an address.
		if rest[0] != ' ' && rest[0] != '\t' && strings.ContainsRune("+-~/", rune(rest[0])) {
			return "", "", false
		}
		return m.action, address, true
	}
	return "", "", false
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
