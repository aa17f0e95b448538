// Package errs defines the error taxonomy shared by every component of the
// pipeline (spec §7). Errors are classified by Kind, not by Go type: call
// sites construct a *Error with the right Kind and the Orchestrator
// switches on Kind to decide retry/propagation/phase-transition behavior.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the Orchestrator's propagation policy.
type Kind string

// Error kinds, per spec §7.
const (
	// KindUserInput covers invalid repo, unknown issue, malformed diff:
	// surfaced to the caller, never retried.
	KindUserInput Kind = "user_input"
	// KindTransient covers network timeouts and 5xx from external
	// services: retried with exponential backoff up to a bounded count.
	KindTransient Kind = "transient"
	// KindBudgetExhausted covers max iterations, max replans, or max
	// attempts: the task transitions to FAILED with a specific reason.
	KindBudgetExhausted Kind = "budget_exhausted"
	// KindTerminal covers invalid diff format, runaway type errors,
	// denylisted commands, persistence failure: no retry, task FAILED.
	KindTerminal Kind = "terminal"
	// KindPolicyViolation covers constraint breaches (path outside
	// allowlist, diff/file limits exceeded): task goes to WAITING_HUMAN.
	KindPolicyViolation Kind = "policy_violation"
	// KindInternal covers programming errors: logged with full context,
	// task FAILED.
	KindInternal Kind = "internal"
)

// Error is the typed error carried across every component boundary.
type Error struct {
	Kind    Kind
	Message string
	Reason  string // short machine-readable cause, e.g. "too_many_type_errors"
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithReason attaches a short machine-readable reason code and returns e,
// for chained construction: errs.New(...).WithReason("too_many_type_errors").
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a *Error (a programming error: something surfaced without being
// classified).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ShouldRetry reports whether the Orchestrator should retry the operation
// that produced err. Only KindTransient is retryable.
func ShouldRetry(err error) bool {
	return KindOf(err) == KindTransient
}

// Sentinel errors for simple not-found/conflict cases across services.
var (
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrConcurrentModified   = errors.New("concurrent modification detected")
	ErrSequenceViolation    = errors.New("sequence must strictly increase")
	ErrImmutableRecord      = errors.New("record is append-only and cannot be mutated")
	ErrNestedOrchestration  = errors.New("a sub-task cannot itself be orchestrated")
	ErrDuplicateDelivery    = errors.New("webhook delivery already processed")
	ErrTaskAlreadyRunning   = errors.New("task already has an active worker")
)
