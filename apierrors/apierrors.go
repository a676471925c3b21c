// Package apierrors codifies the closed error taxonomy the Supervisor maps
// internal failures onto before emitting a terminal ERROR event (see
// spec §7). Every error surfaced to a client carries a stable Code plus a
// display-safe Message; callers should never format a raw Go error for
// display.
package apierrors

import (
	"errors"
	"fmt"
)

// Code enumerates the closed set of error codes a run can terminate with.
type Code string

const (
	// CodeInvalidInput marks malformed or out-of-bounds caller input: empty or
	// oversized task text, a start frame carrying both message and
	// checkpointId, or an unknown HITL request id.
	CodeInvalidInput Code = "invalid_input"
	// CodeReasonerUnavailable marks a Reasoner call that could not be
	// completed; the façade recovers via fallback heuristics and the run
	// continues, so this code is informational (logged), not terminal.
	CodeReasonerUnavailable Code = "reasoner_unavailable"
	// CodeReasonerAssertionFailed marks a Reasoner output that failed a
	// façade assertion after one retry; recovered via fallback, non-terminal.
	CodeReasonerAssertionFailed Code = "reasoner_assertion_failed"
	// CodeToolError marks a single tool invocation failure; recorded on the
	// agent turn, never terminal by itself.
	CodeToolError Code = "tool_error"
	// CodeAgentFailure marks an agent turn that failed after retries.
	CodeAgentFailure Code = "agent_failure"
	// CodeTimeout marks an agent- or run-level timeout. Terminal.
	CodeTimeout Code = "timeout"
	// CodeCancelled marks cooperative cancellation. Terminal.
	CodeCancelled Code = "cancelled"
	// CodeInternal marks an unexpected failure with no more specific code.
	// Terminal; Message carries a correlation id but never a stack trace.
	CodeInternal Code = "internal"
)

// Error is the typed error carried through the runtime and mapped to a
// terminal ERROR event by the Supervisor. It is safe to log Message but
// never Cause's full detail to a client.
type Error struct {
	Code    Code
	Message string
	Phase   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error carrying cause as context. Phase is optional and
// set separately via WithPhase since most call sites don't know their phase
// until the Supervisor catches the error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithPhase returns a copy of e annotated with the phase it occurred in.
func (e *Error) WithPhase(phase string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Phase = phase
	return &cp
}

// As reports whether err (or any error in its chain) is an *Error, and if so
// returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, else
// CodeInternal — the Supervisor's fallback when an inner component raises a
// plain error it didn't anticipate.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// Invalid is a convenience constructor for CodeInvalidInput errors.
func Invalid(format string, args ...any) *Error {
	return New(CodeInvalidInput, fmt.Sprintf(format, args...))
}

// Internal is a convenience constructor for CodeInternal errors, retaining
// cause for logs while keeping Message display-safe.
func Internal(correlationID string, cause error) *Error {
	return Wrap(CodeInternal, "internal error ("+correlationID+")", cause)
}
