package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Telemetry bundles the logger, tracer, metrics and event publisher built
// from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	metricsServer *http.Server
}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return t, nil
}

// NopTelemetry discards logs, never samples spans, records no metrics and
// publishes no events. Library users get it when they configure nothing.
func NopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: &Metrics{config: cfg.Metrics},
		Events:  &EventPublisher{config: cfg.Events},
		Config:  cfg,
	}
}

// WithContext stores the logger in ctx so FromContext finds it.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// StartMetricsServer serves /metrics when metrics are enabled. Shutdown
// stops it.
func (t *Telemetry) StartMetricsServer() {
	t.metricsServer = t.Metrics.StartMetricsServer(t.Logger)
}

// Shutdown drains events, flushes spans and stops the metrics server. It
// tries every step and returns their joined errors.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	errs := []error{
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	}
	if t.metricsServer != nil {
		errs = append(errs, t.metricsServer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
