package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

func ExampleNewTelemetry() {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = "0.4.0"
	tc.Logging.Level = "warn"

	tel, err := telemetry.NewTelemetry(tc)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info("below warn, not written")
}

func ExampleLogger_WithOperation() {
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "info", Format: "json", TimeFormat: "unix"}, os.Stdout)
	logger.NewComponentLogger("executor").
		WithOperation("plan", "/srv/ws").
		InfoEvent().Int("exit_code", 2).Msg("plan finished")
}

func ExampleFilterByLevel() {
	events, _ := telemetry.NewEventPublisher(telemetry.DefaultConfig().Events)
	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Operation)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = events.PublishExecutionStarted("run-7", "apply", "/srv/ws", nil)
	_ = events.PublishExecutionRetry("run-7", "apply", 1, 2*time.Second, "throttled")
	_ = events.PublishExecutionFailed("run-7", "apply", "exhausted", "exit status 1")

	// Output:
	// execution.retry apply
	// execution.failed apply
}
