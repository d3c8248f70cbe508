/*
errors.go - Error kinds for the leave ledger

PURPOSE:
  All error types in one place. Callers match with errors.Is against the
  sentinels or errors.As against the structured types, and map any error
  to a stable ErrorKind with KindOf.

ERROR CATEGORIES:
  1. Validation  - request or grant input rejected before any state change
                   (ValidationError)
  2. Lookup      - missing reservation/usage/user (NotFoundError)
  3. State       - reservation not RESERVED (InvalidStateError)
  4. Allocation  - grants cannot cover the amount (AllocationError)
  5. Invariant   - grant arithmetic would break (InvariantError)
  6. Store       - persistence failure, transaction rolled back (StoreError)

SEE ALSO:
  - validator.go: Produces ValidationError codes
  - allocation.go: Produces AllocationError and InvariantError
  - api/handlers.go: Maps ErrorKind to HTTP status
*/
package leave

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid reservation state")
	ErrAllocation         = errors.New("insufficient leave to allocate")
	ErrInvariantViolation = errors.New("grant invariant violated")
	ErrStore              = errors.New("store failure")
)

// =============================================================================
// ERROR KINDS
// =============================================================================

type ErrorKind string

const (
	CodeSundayNotAllowed     ErrorKind = "SUNDAY_NOT_ALLOWED"
	CodeInsufficientLeave    ErrorKind = "INSUFFICIENT_LEAVE"
	CodeDuplicateReservation ErrorKind = "DUPLICATE_RESERVATION"
	CodeInvalidHalfDay       ErrorKind = "INVALID_HALF_DAY"
	CodeInvalidDate          ErrorKind = "INVALID_DATE"
	CodeInvalidLeaveType     ErrorKind = "INVALID_LEAVE_TYPE"
	CodeInvalidAmount        ErrorKind = "INVALID_AMOUNT"

	KindNotFound     ErrorKind = "NOT_FOUND"
	KindInvalidState ErrorKind = "INVALID_STATE"
	KindAllocation   ErrorKind = "ALLOCATION_ERROR"
	KindInvariant    ErrorKind = "INVARIANT_VIOLATION"
	KindStore        ErrorKind = "STORE_ERROR"
	KindInternal     ErrorKind = "INTERNAL"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is a rejected request. Code is one of the Code* kinds.
type ValidationError struct {
	Code    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string // "reservation", "usage", "user"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError is returned when a reservation is not RESERVED.
// It also matches ErrNotFound: a terminal reservation is no longer
// available for the requested transition.
type InvalidStateError struct {
	ID     string
	Status ReservationStatus
	Want   ReservationStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("reservation %q is %s, want %s", e.ID, e.Status, e.Want)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func (e *InvalidStateError) Is(target error) bool { return target == ErrNotFound }

// AllocationError reports a shortfall across all grants.
type AllocationError struct {
	UserID    UserID
	Requested decimal.Decimal
	Available decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("insufficient leave for %s: available %s, requested %s, shortfall %s",
		e.UserID, e.Available, e.Requested, e.Shortfall)
}

func (e *AllocationError) Unwrap() error { return ErrAllocation }

// InvariantError reports a grant whose arithmetic is, or would become, invalid.
type InvariantError struct {
	UserID UserID
	Year   int
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Year == 0 {
		return fmt.Sprintf("invariant violation for %s: %s", e.UserID, e.Reason)
	}
	return fmt.Sprintf("invariant violation for %s/%d: %s", e.UserID, e.Year, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// StoreError wraps a persistence failure. The enclosing transaction
// has been rolled back when this reaches a caller.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// wrapStore tags err as a store failure. Domain errors pass through so that
// errors returned from inside a transaction keep their kind.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return &StoreError{Op: op, Err: errors.WithStack(err)}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAllocation) ||
		errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrStore)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf maps any error to its ErrorKind. Nil maps to "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	switch {
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAllocation):
		return KindAllocation
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	case errors.Is(err, ErrStore):
		return KindStore
	}
	return KindInternal
}

// IsClientError reports whether err is caused by the request rather than
// the system.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case "", KindInvariant, KindStore, KindInternal:
		return false
	}
	return true
}

// Result is the uniform outcome envelope for callers that do not want to
// inspect Go errors.
type Result struct {
	Success bool      `json:"success"`
	Error   ErrorKind `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Result{Error: ve.Code, Message: ve.Message}
	}
	return Result{Error: KindOf(err), Message: err.Error()}
}
