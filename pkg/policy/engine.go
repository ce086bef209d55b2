package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/tfdriver/pkg/parser"
)

// Engine evaluates Rego policies against parsed plan changes. It is safe
// for concurrent use; a hot reload swaps the custom policy set atomically.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := compile(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return e, nil
}

// EvaluatePlan runs every enabled policy against the plan changes. A policy
// that fails to evaluate is reported in Errors and does not block.
func (e *Engine) EvaluatePlan(ctx context.Context, changes *parser.PlanChanges, pctx *PolicyContext) (*PolicyResult, error) {
	startTime := time.Now()
	input := NewInput(changes, pctx)

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &PolicyResult{
		Allowed:           true,
		EvaluatedPolicies: []string{},
	}

	for _, cp := range e.sorted() {
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now().UTC()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Int("changes", input.Counts.Total).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	// Sets come back unordered.
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Address != violations[j].Address {
			return violations[i].Address < violations[j].Address
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// createViolation creates a PolicyViolation from one deny entry. Entries
// are either strings or objects with message, severity and resource keys.
func createViolation(policy *Policy, entry interface{}) PolicyViolation {
	violation := PolicyViolation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := entry.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && sev != "" {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Address = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", entry)
	}

	return violation
}

// compile parses a policy and prepares its deny query.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// LoadPolicies loads policy files and adds them to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetCustomPolicies(ctx, policies)
}

// SetCustomPolicies replaces every non built-in policy. Nothing changes
// when any policy fails to compile.
func (e *Engine) SetCustomPolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy name: %s", p.Name)
		}
		cp, err := compile(ctx, &p)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
	}
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Policies loaded successfully")

	return nil
}

// Watch loads policies from paths and reloads them whenever a policy file
// changes, until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	if err := e.LoadPolicies(ctx, paths); err != nil {
		return err
	}
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.SetCustomPolicies(ctx, policies)
	})
}

// sorted returns the policies ordered by name. Callers hold e.mu.
func (e *Engine) sorted() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sorted := e.sorted()
	policies := make([]Policy, 0, len(sorted))
	for _, cp := range sorted {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
