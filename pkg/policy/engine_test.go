package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/tfdriver/pkg/parser"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"change-budget", "destroy-guard", "production-destroy", "replace-guard"}
	if len(policies) != len(want) {
		t.Fatalf("got %d policies, want %d", len(policies), len(want))
	}
	for i, name := range want {
		if policies[i].Name != name {
			t.Errorf("policies[%d] = %s, want %s", i, policies[i].Name, name)
		}
		if !policies[i].Builtin || !policies[i].Enabled {
			t.Errorf("%s should be an enabled built-in", name)
		}
	}
}

func TestEvaluatePlan_Guards(t *testing.T) {
	eng := newTestEngine(t)

	changes := &parser.PlanChanges{
		Create:  []string{"aws_instance.new"},
		Delete:  []string{"aws_instance.b", "aws_instance.a"},
		Replace: []string{"aws_db_instance.main"},
	}

	result, err := eng.EvaluatePlan(context.Background(), changes, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}

	if !result.Allowed {
		t.Errorf("warnings must not block: %+v", result.Violations)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v", result.Errors)
	}
	if len(result.Warnings) != 3 {
		t.Fatalf("Warnings = %+v, want 3", result.Warnings)
	}

	// destroy-guard sorts before replace-guard; violations are sorted by address.
	want := []struct{ policy, address string }{
		{"destroy-guard", "aws_instance.a"},
		{"destroy-guard", "aws_instance.b"},
		{"replace-guard", "aws_db_instance.main"},
	}
	for i, w := range want {
		got := result.Warnings[i]
		if got.Policy != w.policy || got.Address != w.address || got.Severity != SeverityWarning {
			t.Errorf("Warnings[%d] = %+v, want %s on %s", i, got, w.policy, w.address)
		}
	}
	if result.Warnings[0].Message != "aws_instance.a will be destroyed" {
		t.Errorf("message = %q", result.Warnings[0].Message)
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("EvaluatedPolicies = %v", result.EvaluatedPolicies)
	}
}

func TestEvaluatePlan_NoChanges(t *testing.T) {
	eng := newTestEngine(t)

	for _, changes := range []*parser.PlanChanges{nil, {}} {
		result, err := eng.EvaluatePlan(context.Background(), changes, &PolicyContext{Environment: "production", MaxChanges: 1})
		if err != nil {
			t.Fatalf("EvaluatePlan() error = %v", err)
		}
		if !result.Allowed || len(result.All()) != 0 {
			t.Errorf("empty plan result = %+v", result)
		}
	}
}

func TestEvaluatePlan_ChangeBudget(t *testing.T) {
	eng := newTestEngine(t)
	changes := &parser.PlanChanges{
		Create: []string{"a.one", "a.two"},
		Update: []string{"a.three"},
	}

	tests := []struct {
		name        string
		maxChanges  int
		wantAllowed bool
	}{
		{"no budget", 0, true},
		{"within budget", 3, true},
		{"over budget", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePlan(context.Background(), changes, &PolicyContext{MaxChanges: tt.maxChanges})
			if err != nil {
				t.Fatalf("EvaluatePlan() error = %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", result.Allowed, tt.wantAllowed)
			}
			if !tt.wantAllowed {
				if len(result.Violations) != 1 || result.Violations[0].Policy != "change-budget" {
					t.Fatalf("Violations = %+v", result.Violations)
				}
				if result.Violations[0].Message != "plan changes 3 resources, more than the allowed 2" {
					t.Errorf("Message = %q", result.Violations[0].Message)
				}
			}
		})
	}
}

func TestEvaluatePlan_ProductionDestroy(t *testing.T) {
	eng := newTestEngine(t)
	changes := &parser.PlanChanges{Replace: []string{"aws_db_instance.main"}}

	result, err := eng.EvaluatePlan(context.Background(), changes, &PolicyContext{Environment: "production"})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("replacing in production should be blocked")
	}
	if result.Violations[0].Severity != SeverityCritical || result.Violations[0].Address != "aws_db_instance.main" {
		t.Errorf("Violations = %+v", result.Violations)
	}

	result, _ = eng.EvaluatePlan(context.Background(), changes, &PolicyContext{Environment: "staging"})
	if !result.Allowed {
		t.Error("staging should only warn")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	changes := &parser.PlanChanges{Delete: []string{"a.b"}}

	if err := eng.DisablePolicy("destroy-guard"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	policy, err := eng.GetPolicy("destroy-guard")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	result, _ := eng.EvaluatePlan(context.Background(), changes, nil)
	for _, v := range result.All() {
		if v.Policy == "destroy-guard" {
			t.Error("Disabled policy should not generate violations")
		}
	}

	if err := eng.EnablePolicy("destroy-guard"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, _ = eng.EvaluatePlan(context.Background(), changes, nil)
	if len(result.Warnings) != 1 {
		t.Errorf("Warnings = %+v", result.Warnings)
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestSetCustomPolicies(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:     "no-iam",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.no_iam

import rego.v1

deny contains msg if {
	some address in input.changes.create
	startswith(address, "aws_iam_")
	msg := sprintf("IAM resources are managed elsewhere: %s", [address])
}
`,
	}

	if err := eng.SetCustomPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("SetCustomPolicies() error = %v", err)
	}

	result, err := eng.EvaluatePlan(context.Background(), &parser.PlanChanges{Create: []string{"aws_iam_role.ci"}}, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if result.Allowed || len(result.Violations) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Violations[0].Message != "IAM resources are managed elsewhere: aws_iam_role.ci" {
		t.Errorf("Message = %q", result.Violations[0].Message)
	}

	// Replacing the custom set drops the old policy and keeps built-ins.
	if err := eng.SetCustomPolicies(context.Background(), nil); err != nil {
		t.Fatalf("SetCustomPolicies(nil) error = %v", err)
	}
	if _, err := eng.GetPolicy("no-iam"); err == nil {
		t.Error("custom policy should be gone")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("built-ins should remain, got %d", len(eng.ListPolicies()))
	}
}

func TestSetCustomPolicies_Rejected(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name     string
		policies []Policy
	}{
		{"syntax error", []Policy{{Name: "broken", Enabled: true, Rego: "package x\n\ndeny contains if {"}}},
		{"shadows builtin", []Policy{{Name: "destroy-guard", Enabled: true, Rego: "package x\n"}}},
		{"duplicate", []Policy{
			{Name: "dup", Rego: "package a\n"},
			{Name: "dup", Rego: "package b\n"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eng.SetCustomPolicies(context.Background(), tt.policies); err == nil {
				t.Error("expected error")
			}
			if len(eng.ListPolicies()) != 4 {
				t.Error("a rejected set must not change the engine")
			}
		})
	}
}

func TestLoadPoliciesAndWatch(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "no-deletes.rego")

	write := func(severity string) {
		t.Helper()
		content := "# Forbids deletes\n# severity: " + severity + "\npackage custom.no_deletes\n\nimport rego.v1\n\n" +
			"deny contains msg if {\n\tcount(input.changes.delete) > 0\n\tmsg := \"deletes are forbidden\"\n}\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write policy: %v", err)
		}
	}
	write("warning")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	changes := &parser.PlanChanges{Delete: []string{"a.b"}}
	result, _ := eng.EvaluatePlan(context.Background(), changes, nil)
	if !result.Allowed {
		t.Fatal("warning severity should not block")
	}

	write("error")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := eng.GetPolicy("no-deletes")
		if err == nil && p.Severity == SeverityError {
			result, _ = eng.EvaluatePlan(context.Background(), changes, nil)
			if result.Allowed {
				t.Error("reloaded error severity should block")
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("policy was not reloaded")
}

func TestCreateViolation(t *testing.T) {
	p := &Policy{Name: "p", Severity: SeverityWarning}

	v := createViolation(p, map[string]interface{}{"message": "m", "severity": "critical", "resource": "a.b"})
	if v.Message != "m" || v.Severity != SeverityCritical || v.Address != "a.b" {
		t.Errorf("object entry = %+v", v)
	}

	v = createViolation(p, "plain")
	if v.Message != "plain" || v.Severity != SeverityWarning {
		t.Errorf("string entry = %+v", v)
	}
}
