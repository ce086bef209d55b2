package policy

import (
	"slices"
	"time"

	"github.com/openfroyo/tfdriver/pkg/parser"
)

// Severity grades a violation. Only error and critical block apply.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity blocks apply.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module defining a deny set.
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rego        string `json:"rego"`
	// Severity applies to deny entries that are plain strings.
	Severity Severity `json:"severity"`
	Enabled  bool     `json:"enabled"`
	Builtin  bool     `json:"builtin,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	Source   string    `json:"source,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

type PolicyViolation struct {
	Policy   string   `json:"policy"`
	Address  string   `json:"address,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// PolicyResult is the outcome of evaluating every enabled policy against
// one plan. Violations block; Warnings do not. Errors names policies that
// failed to evaluate; they are reported but do not block.
type PolicyResult struct {
	Allowed           bool              `json:"allowed"`
	Violations        []PolicyViolation `json:"violations,omitempty"`
	Warnings          []PolicyViolation `json:"warnings,omitempty"`
	Errors            []string          `json:"errors,omitempty"`
	EvaluatedPolicies []string          `json:"evaluated_policies"`
	EvaluatedAt       time.Time         `json:"evaluated_at"`
	Duration          time.Duration     `json:"duration"`
}

// All returns blocking violations followed by warnings.
func (r *PolicyResult) All() []PolicyViolation {
	return slices.Concat(r.Violations, r.Warnings)
}

// PolicyInput is the document bound to input in every policy.
type PolicyInput struct {
	Changes parser.PlanChanges `json:"changes"`
	Counts  ChangeCounts       `json:"counts"`
	Context *PolicyContext     `json:"context"`
}

// ChangeCounts summarizes a plan for policies that only need numbers.
type ChangeCounts struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	Total   int `json:"total"`
}

// PolicyContext describes who is applying what, and where.
type PolicyContext struct {
	User        string `json:"user,omitempty"`
	Environment string `json:"environment,omitempty"`
	WorkDir     string `json:"workdir,omitempty"`
	// MaxChanges feeds the change-budget policy; zero disables it.
	MaxChanges int            `json:"max_changes"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewInput builds the policy input for a set of plan changes.
func NewInput(changes *parser.PlanChanges, pctx *PolicyContext) *PolicyInput {
	input := &PolicyInput{Context: pctx}
	if changes != nil {
		input.Changes = *changes
	}
	// Policies iterate buckets; nil slices would serialize as null.
	for _, b := range []*[]string{&input.Changes.Create, &input.Changes.Update, &input.Changes.Delete, &input.Changes.Replace} {
		if *b == nil {
			*b = []string{}
		}
	}
	input.Counts = ChangeCounts{
		Create:  len(input.Changes.Create),
		Update:  len(input.Changes.Update),
		Delete:  len(input.Changes.Delete),
		Replace: len(input.Changes.Replace),
		Total:   input.Changes.Total(),
	}
	if input.Context == nil {
		input.Context = &PolicyContext{}
	}
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = time.Now().UTC()
	}
	return input
}
