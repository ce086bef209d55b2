// Package policy gates apply on Open Policy Agent (OPA) policies evaluated
// against the changes parsed from plan output.
//
// Every policy is a Rego module that defines a deny set. Entries are
// either strings or objects with message, severity and resource keys.
// Policies see this input:
//
//	{
//	  "changes": {"create": [...], "update": [...], "delete": [...], "replace": [...]},
//	  "counts":  {"create": 1, "update": 0, "delete": 2, "replace": 0, "total": 3},
//	  "context": {"environment": "production", "workdir": "...", "max_changes": 10, ...}
//	}
//
// # Built-in policies
//
//   - destroy-guard: warns about every deleted resource
//   - replace-guard: warns about every replaced resource
//   - change-budget: blocks plans larger than context.max_changes
//   - production-destroy: blocks deletes and replaces when the environment is production
//
// Violations with severity error or critical make the result disallowed;
// info and warning violations are reported as warnings.
//
// # Custom policies
//
// Custom policies are loaded from .rego files (named after the file, with
// an optional "# severity: error" header comment) or .json files holding a
// serialized Policy:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.Watch(ctx, []string{"/etc/tfdriver/policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.EvaluatePlan(ctx, res.Changes, &policy.PolicyContext{Environment: "production"})
//
// Watch reloads the custom set whenever a policy file changes. A set that
// fails to compile is rejected as a whole and the previous set stays active.
package policy
