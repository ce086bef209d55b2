package retry

import (
	"errors"
	"regexp"
	"strings"
)

// Class categorizes a failure for retry decisions.
type Class string

const (
	// ClassTransient covers network and lock failures that usually clear on their own.
	ClassTransient Class = "transient"
	// ClassThrottled covers provider rate limiting.
	ClassThrottled Class = "throttled"
	// ClassPermanent covers everything a retry cannot fix.
	ClassPermanent Class = "permanent"
)

// Retryable reports whether failures of this class should be retried.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassThrottled
}

// OutputError carries the combined process output of a failed attempt so
// the classifier can inspect what the tool printed, not just the Go error.
type OutputError struct {
	Output   string
	ExitCode int
	Err      error
}

func (e *OutputError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return strings.TrimSpace(e.Output)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

type pattern struct {
	re    *regexp.Regexp
	class Class
}

// Fatal patterns are checked first so a syntax error that also mentions a
// timeout is never retried.
var fatalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invalid syntax`),
	regexp.MustCompile(`(?i)unsupported argument`),
	regexp.MustCompile(`(?i)unsupported block type`),
	regexp.MustCompile(`(?i)invalid reference`),
	regexp.MustCompile(`(?i)no configuration files`),
	regexp.MustCompile(`(?i)error: missing required argument`),
	regexp.MustCompile(`(?i)(access|permission) denied`),
	regexp.MustCompile(`(?i)unauthorized`),
	regexp.MustCompile(`(?i)invalid credentials`),
}

var retryablePatterns = []pattern{
	{regexp.MustCompile(`(?i)connection reset`), ClassTransient},
	{regexp.MustCompile(`(?i)connection refused`), ClassTransient},
	{regexp.MustCompile(`(?i)i/o timeout`), ClassTransient},
	{regexp.MustCompile(`(?i)timeout (awaiting|exceeded|expired)`), ClassTransient},
	{regexp.MustCompile(`(?i)(context )?deadline exceeded`), ClassTransient},
	{regexp.MustCompile(`(?i)(dial|read|write) tcp .*timed out`), ClassTransient},
	{regexp.MustCompile(`(?i)TLS handshake`), ClassTransient},
	{regexp.MustCompile(`(?i)no such host`), ClassTransient},
	{regexp.MustCompile(`(?i)temporary failure in name resolution`), ClassTransient},
	{regexp.MustCompile(`(?i)(host|network) (is )?unreachable`), ClassTransient},
	{regexp.MustCompile(`(?i)unexpected EOF`), ClassTransient},
	{regexp.MustCompile(`(?i)error acquiring the state lock`), ClassTransient},
	{regexp.MustCompile(`(?i)failed to install provider`), ClassTransient},
	{regexp.MustCompile(`(?i)could not download`), ClassTransient},
	{regexp.MustCompile(`(?i)(502|503|504) `), ClassTransient},
	{regexp.MustCompile(`(?i)service unavailable`), ClassTransient},
	{regexp.MustCompile(`(?i)temporarily unavailable`), ClassTransient},
	{regexp.MustCompile(`(?i)rate ?limit`), ClassThrottled},
	{regexp.MustCompile(`(?i)throttl`), ClassThrottled},
	{regexp.MustCompile(`(?i)too many requests`), ClassThrottled},
	{regexp.MustCompile(`\b429\b`), ClassThrottled},
}

// Classify maps an error to a Class. When err carries an OutputError, the
// captured output is inspected along with the error text.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}

	text := err.Error()
	var outErr *OutputError
	if errors.As(err, &outErr) {
		text = text + "\n" + outErr.Output
	}
	return ClassifyText(text)
}

// ClassifyText maps free-form failure text to a Class.
func ClassifyText(text string) Class {
	for _, re := range fatalPatterns {
		if re.MatchString(text) {
			return ClassPermanent
		}
	}
	// Throttling takes precedence over generic transient matches.
	for _, p := range retryablePatterns {
		if p.class == ClassThrottled && p.re.MatchString(text) {
			return ClassThrottled
		}
	}
	for _, p := range retryablePatterns {
		if p.class == ClassTransient && p.re.MatchString(text) {
			return ClassTransient
		}
	}
	return ClassPermanent
}

// IsRetryable reports whether err looks like a transient failure.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as never retryable, whatever its text says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
