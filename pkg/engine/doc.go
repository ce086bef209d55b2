// Package engine drives a Terraform-compatible binary.
//
// # Overview
//
// An Executor is bound to one working directory and one binary. Each
// operation goes through the same pipeline:
//
//  1. command.Build produces the argument vector
//  2. retry.Policy wraps the attempt (except apply from a saved plan and fmt)
//  3. process.Runner spawns the binary with no input and captures output
//  4. the parser package turns output into structured fields
//  5. the result is logged, traced, counted, published and optionally recorded
//
// # Results and errors
//
// Operations return (*ExecutionResult, error). Ordinary failures of the
// tool, including a binary that cannot be spawned, are reported in the
// result with Success false and never as an error. The error is non-nil
// only for programmer mistakes (unknown operation, invalid options) and
// when every retry of a transient failure failed; in the latter case the
// result of the final attempt is returned as well.
//
//	exec := engine.New(dir, engine.WithBinary("tofu"))
//	res, err := exec.Plan(ctx, command.Options{Out: "tfplan"})
//	if err != nil {
//	    return err
//	}
//	if !res.Success {
//	    return fmt.Errorf("plan failed: %s", res.Message)
//	}
//	if res.HasChanges {
//	    fmt.Println(res.Changes.Create)
//	}
//
// # Error Classification
//
//   - Transient, Throttled: retried with exponential backoff
//   - Permanent: tool failed, not retried
//   - Timeout, Canceled: child process stopped by the executor
//   - Spawn: binary missing or not executable
//   - Parse: output did not have the expected shape
//   - Exhausted: retries ran out
//   - Invalid: unknown operation or options
//
// # Concurrency
//
// Operations on one Executor must be serialized by the caller. Executors
// bound to different directories share nothing and may run concurrently.
package engine
