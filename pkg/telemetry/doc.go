// Package telemetry provides the observability stack for tfdriver.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event publisher. Every
// component is safe to use in its disabled form, so library callers that
// do not configure telemetry pay almost nothing for it.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithExecutionID(id).WithOperation("plan", dir)
//	logger.Info("starting plan")
//	logger.WithError(err).Error("plan failed")
//
// Log levels: trace, debug, info, warn, error, fatal. Setting
// LoggingConfig.ProcessOutput logs every line the child process writes.
//
// # Tracing
//
// One span covers an executor operation and a child span covers each
// attempt:
//
//	ctx, span := tel.Tracer.StartExecutionSpan(ctx, id, "plan", dir)
//	defer span.End()
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
//	tfdriver_executions_total{operation,status}
//	tfdriver_execution_duration_seconds{operation}
//	tfdriver_execution_attempts{operation}
//	tfdriver_retries_total{operation,class}
//	tfdriver_errors_by_class_total{class}
//	tfdriver_planned_changes_total{action}
//	tfdriver_active_executions
//
// # Events
//
// The publisher emits execution.started, execution.retry,
// execution.completed, execution.failed, policy.violation and
// workspace.changed. Subscribers may attach a filter:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
