package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineErrorFormatting(t *testing.T) {
	err := NewTimeoutError("process timed out", errors.New("signal: killed")).WithOperation("apply")
	want := "[timeout] process timed out (operation=apply): signal: killed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := NewInvalidError(ErrCodeInvalidOptions, "bad options", nil)
	if bare.Error() != "[invalid] bad options" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestEngineErrorMatching(t *testing.T) {
	cause := errors.New("exit 1")
	err := fmt.Errorf("wrapped: %w", NewExhaustedError("plan failed after 4 attempts", cause).WithDetail("class", "transient"))

	if !IsExhausted(err) || IsInvalid(err) || IsTimeout(err) {
		t.Errorf("class checks wrong for %v", err)
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassExhausted, Code: ErrCodeRetriesExhausted}) {
		t.Error("errors.Is should match on class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassExhausted, Code: ErrCodeTimeout}) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}

	var ee *EngineError
	if !errors.As(err, &ee) || ee.Details["class"] != "transient" {
		t.Errorf("details = %v", ee)
	}
	if ClassOf(errors.New("plain")) != "" {
		t.Error("ClassOf() of a plain error should be empty")
	}
}

func TestErrorClassRetryable(t *testing.T) {
	for class, want := range map[ErrorClass]bool{
		ErrorClassTransient: true,
		ErrorClassThrottled: true,
		ErrorClassExhausted: true,
		ErrorClassPermanent: false,
		ErrorClassTimeout:   false,
		ErrorClassCanceled:  false,
		ErrorClassSpawn:     false,
		ErrorClassParse:     false,
		ErrorClassInvalid:   false,
	} {
		if got := class.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", class, got, want)
		}
	}
}
