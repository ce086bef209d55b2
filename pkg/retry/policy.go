// Package retry re-invokes failed tool operations with exponential backoff
// when their failure looks transient.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

const (
	// DefaultMaxRetries is the number of retries after the initial attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the backoff base in seconds: delays are base^retry.
	DefaultBaseDelay = 2.0
)

// Func is an operation the policy may invoke more than once. It must be
// safe to repeat.
type Func func(ctx context.Context) error

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Name  string
	Retry int // 1-based retry number
	Delay time.Duration
	Class Class
	Err   error
}

// ExhaustedError is returned when every allowed attempt failed with a
// retryable error.
type ExhaustedError struct {
	Name     string
	Attempts int
	Class    Class
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts (%s): %v", e.Name, e.Attempts, e.Class, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Policy holds the retry bound and backoff parameters. A Policy carries
// no per-call state and may be shared.
type Policy struct {
	MaxRetries int
	BaseDelay  float64
	// MaxDelay caps a single backoff when positive.
	MaxDelay time.Duration

	// Sleeper defaults to a timer that aborts on context cancellation.
	Sleeper Sleeper
	// OnRetry is called before each backoff sleep.
	OnRetry func(Attempt)
	// Classify defaults to the package classifier.
	Classify func(error) Class

	Logger *telemetry.Logger
}

// NewPolicy returns a policy with the default bound and base.
func NewPolicy(logger *telemetry.Logger) *Policy {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Logger:     logger.NewComponentLogger("retry"),
	}
}

// Delay returns the backoff before the given 1-based retry.
func (p *Policy) Delay(retry int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	d := time.Duration(math.Pow(base, float64(retry)) * float64(time.Second))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do invokes fn until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have been spent. Non-retryable errors are returned
// unchanged; exhaustion returns an *ExhaustedError. A cancelled context
// aborts the backoff and returns ctx.Err().
func (p *Policy) Do(ctx context.Context, name string, fn Func) error {
	logger := p.logger().With(func(c zerolog.Context) zerolog.Context {
		return c.Str("operation", name)
	})
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	sleep := p.Sleeper
	if sleep == nil {
		sleep = SleepContext
	}

	attempts := 0
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			if attempts > 1 {
				logger.InfoEvent().Int("attempts", attempts).Msg("operation succeeded after retry")
			}
			return nil
		}

		class := classify(err)
		if !class.Retryable() {
			logger.DebugEvent().
				Int("attempt", attempts).
				Str("class", string(class)).
				Err(err).
				Msg("failure is not retryable")
			return err
		}

		if attempts > p.MaxRetries {
			logger.ErrorEvent().
				Int("attempts", attempts).
				Str("class", string(class)).
				Err(err).
				Msg("retries exhausted")
			return &ExhaustedError{Name: name, Attempts: attempts, Class: class, Last: err}
		}

		delay := p.Delay(attempts)
		logger.WarnEvent().
			Int("attempt", attempts).
			Int("max_retries", p.MaxRetries).
			Dur("delay", delay).
			Str("class", string(class)).
			Err(err).
			Msg("retrying after transient failure")

		if p.OnRetry != nil {
			p.OnRetry(Attempt{Name: name, Retry: attempts, Delay: delay, Class: class, Err: err})
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Policy) logger() *telemetry.Logger {
	if p.Logger == nil {
		return telemetry.NopLogger()
	}
	return p.Logger
}

// SleepContext waits for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
