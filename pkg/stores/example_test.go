package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
	"github.com/openfroyo/tfdriver/pkg/stores"
)

// Example_history records executions and lists the failures.
func Example_history() {
	ctx := context.Background()

	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	results := []*engine.ExecutionResult{
		{ID: "a1", Operation: command.OpInit, WorkingDir: "/ws", Success: true, Attempts: 1, StartedAt: started},
		{ID: "a2", Operation: command.OpApply, WorkingDir: "/ws", ExitCode: 1, Attempts: 4,
			ErrorClass: engine.ErrorClassExhausted, Error: "apply failed after 4 attempts",
			StartedAt: started.Add(time.Minute)},
	}
	for _, r := range results {
		if err := store.RecordExecution(ctx, r); err != nil {
			log.Fatal(err)
		}
	}

	failed, err := store.ListExecutions(ctx, stores.ExecutionFilter{FailedOnly: true})
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range failed {
		fmt.Println(e.ID, e.Operation, e.Status(), e.ErrorClass, e.Attempts)
	}
	// Output:
	// a2 apply failed exhausted 4
}
