package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		destroyGuardPolicy(),
		replaceGuardPolicy(),
		changeBudgetPolicy(),
		productionDestroyPolicy(),
	}
}

// destroyGuardPolicy flags every resource the plan deletes.
func destroyGuardPolicy() Policy {
	return Policy{
		Name:        "destroy-guard",
		Description: "Warns about every resource the plan destroys",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "destroy"},
		Rego: `package tfdriver.policies.destroy_guard

import rego.v1

deny contains violation if {
	some address in input.changes.delete
	violation := {
		"message": sprintf("%s will be destroyed", [address]),
		"resource": address,
	}
}
`,
	}
}

// replaceGuardPolicy flags resources that are destroyed and recreated.
func replaceGuardPolicy() Policy {
	return Policy{
		Name:        "replace-guard",
		Description: "Warns about resources that will be destroyed and recreated",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "replace"},
		Rego: `package tfdriver.policies.replace_guard

import rego.v1

deny contains violation if {
	some address in input.changes.replace
	violation := {
		"message": sprintf("%s will be replaced", [address]),
		"resource": address,
	}
}
`,
	}
}

// changeBudgetPolicy blocks plans larger than context.max_changes.
func changeBudgetPolicy() Policy {
	return Policy{
		Name:        "change-budget",
		Description: "Blocks plans that change more resources than allowed",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "blast-radius"},
		Rego: `package tfdriver.policies.change_budget

import rego.v1

deny contains violation if {
	budget := input.context.max_changes
	budget > 0
	input.counts.total > budget
	violation := {
		"message": sprintf("plan changes %d resources, more than the allowed %d", [input.counts.total, budget]),
	}
}
`,
	}
}

// productionDestroyPolicy blocks deletes in production.
func productionDestroyPolicy() Policy {
	return Policy{
		Name:        "production-destroy",
		Description: "Blocks destroying or replacing resources in production",
		Severity:    SeverityCritical,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "production"},
		Rego: `package tfdriver.policies.production_destroy

import rego.v1

destructive contains address if {
	some address in input.changes.delete
}

destructive contains address if {
	some address in input.changes.replace
}

deny contains violation if {
	input.context.environment == "production"
	some address in destructive
	violation := {
		"message": sprintf("%s may not be destroyed in production", [address]),
		"resource": address,
	}
}
`,
	}
}
