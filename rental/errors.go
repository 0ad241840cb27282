/*
errors.go - Centralized error taxonomy for the rental engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The settlement and modification packages wrap these with context;
  the API layer maps them to HTTP status codes with errors.Is.

ERROR CATEGORIES:
  1. Validation errors  - Bad input, detected before any persistence
  2. Policy errors      - Change type not permitted by the policy
  3. State errors       - Ledger/settlement state machine violations
  4. Dependency errors  - Policy/pricing collaborators unavailable
  5. Concurrency errors - Stale preview vs. current booking state

PROPAGATION POLICY:
  Validation and policy errors fail fast with no partial writes.
  PaymentCaptureFailure rolls back the whole unit of work.
  ConcurrencyConflict is surfaced, never silently retried: the caller
  must re-run the preview so a human can re-confirm amounts.

USAGE:
  if errors.Is(err, rental.ErrBalanceNotZero) { ... }

SEE ALSO:
  - settlement/: wraps state errors with balances and transitions
  - modification/: wraps validation and policy errors with field context
*/
package rental

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input: a too-short
	// modification reason, missing or out-of-order dates, bad amounts.
	ErrValidation = errors.New("validation error")

	// ErrNoChangeDetected is returned when a proposed assignment matches
	// the booking field-for-field.
	ErrNoChangeDetected = errors.New("no change detected")

	// ErrPolicyViolation is returned when the modification policy
	// disallows a changed field category.
	ErrPolicyViolation = errors.New("modification not permitted by policy")

	// ErrNotFound is returned when a booking or settlement does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPricingUnavailable is returned when no active rate applies or the
	// pricing dependency times out. Never silently defaulted.
	ErrPricingUnavailable = errors.New("pricing unavailable")

	// ErrPolicyUnavailable is returned when the policy dependency times out.
	ErrPolicyUnavailable = errors.New("policy unavailable")

	// ErrConcurrencyConflict is returned when the booking was mutated by
	// another operation between validation and commit.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrPaymentCaptureFailure is returned when the payment gateway
	// declines or fails a capture; the unit of work is rolled back.
	ErrPaymentCaptureFailure = errors.New("payment capture failed")

	// ErrInvalidStateTransition is returned for state machine violations:
	// recording on a closed settlement, post-completion charges on a
	// non-completed booking, illegal transaction status moves.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrBalanceNotZero is returned when closing a settlement whose
	// balance is still positive.
	ErrBalanceNotZero = errors.New("balance not zero")

	// ErrMissingReason is returned when reopening without a reason.
	ErrMissingReason = errors.New("missing reason")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PolicyViolationError names the disallowed change category.
type PolicyViolationError struct {
	Category string // "date", "vehicle", "location"
	Message  string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %s change not permitted: %s", e.Category, e.Message)
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

// NotFoundError names what was missing.
type NotFoundError struct {
	Kind string // "booking", "settlement", "transaction"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StateTransitionError describes a rejected state machine move.
type StateTransitionError struct {
	From    string
	To      string
	Message string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Message)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// BalanceNotZeroError carries the outstanding balance that blocked a close.
type BalanceNotZeroError struct {
	BookingID BookingID
	Balance   Money
}

func (e *BalanceNotZeroError) Error() string {
	return fmt.Sprintf("settlement for booking %s cannot close: outstanding balance %s", e.BookingID, e.Balance)
}

func (e *BalanceNotZeroError) Unwrap() error { return ErrBalanceNotZero }

// CaptureError carries the gateway's failure detail.
type CaptureError struct {
	BookingID BookingID
	Amount    Money
	Cause     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture of %s for booking %s failed: %v", e.Amount, e.BookingID, e.Cause)
}

func (e *CaptureError) Unwrap() error { return ErrPaymentCaptureFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a business rule the client can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNoChangeDetected) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrBalanceNotZero) ||
		errors.Is(err, ErrMissingReason) ||
		errors.Is(err, ErrInvalidStateTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict returns true for optimistic concurrency conflicts. These are
// surfaced to the caller for re-confirmation, never retried internally.
func IsConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }

// IsUnavailable returns true when a policy/pricing dependency failed.
// Reads against these collaborators are idempotent and retry-eligible.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrPolicyUnavailable) || errors.Is(err, ErrPricingUnavailable)
}
