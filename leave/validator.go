/*
validator.go - Leave request validation

PURPOSE:
  Decides whether a new leave request may be accepted given the user's
  remaining balance and existing reservations. Pure: no store access,
  no side effects.

RULE ORDER (first failure wins):
  0. Malformed input            -> INVALID_DATE / INVALID_LEAVE_TYPE
  1. Date on the no-leave day   -> SUNDAY_NOT_ALLOWED
  2. Required amount > balance  -> INSUFFICIENT_LEAVE
  3. Same-date RESERVED conflict:
       existing FULL                 -> DUPLICATE_RESERVATION
       existing HALF vs new FULL     -> DUPLICATE_RESERVATION
       existing HALF, same session   -> INVALID_HALF_DAY
  4. HALF without AM/PM session  -> INVALID_HALF_DAY

SEE ALSO:
  - service.go: Calls Validate inside the per-user critical section
*/
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LeaveRequest is the input to validation and to Service.RequestLeave.
type LeaveRequest struct {
	UserID    UserID    `json:"user_id"`
	Date      Date      `json:"date"`
	Type      LeaveType `json:"type"`
	Session   Session   `json:"session,omitempty"`
	Immediate bool      `json:"immediate,omitempty"`
}

// Amount is the number of days the request consumes.
func (r LeaveRequest) Amount() decimal.Decimal {
	return r.Type.Amount()
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid   bool      `json:"valid"`
	Code    ErrorKind `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Err returns nil for a valid result, otherwise a *ValidationError.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Code: r.Code, Message: r.Message}
}

func reject(code ErrorKind, format string, args ...any) ValidationResult {
	return ValidationResult{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RequestValidator checks leave requests. The zero value forbids Sundays.
type RequestValidator struct {
	// NoLeaveDay is the weekday on which leave cannot be requested.
	NoLeaveDay time.Weekday
}

func NewRequestValidator(noLeaveDay time.Weekday) *RequestValidator {
	return &RequestValidator{NoLeaveDay: noLeaveDay}
}

// Validate applies the rules in order. existing may contain reservations in
// any status and for any date; only RESERVED entries on req.Date matter.
func (v *RequestValidator) Validate(req LeaveRequest, remaining decimal.Decimal, existing []Reservation) ValidationResult {
	if req.Date.IsZero() {
		return reject(CodeInvalidDate, "leave date is required")
	}
	if !req.Type.IsValid() {
		return reject(CodeInvalidLeaveType, "unknown leave type %q", req.Type)
	}

	if req.Date.Weekday() == v.NoLeaveDay {
		return reject(CodeSundayNotAllowed, "leave cannot be requested on %s (%s)", req.Date.Weekday(), req.Date)
	}

	required := req.Amount()
	if required.GreaterThan(remaining) {
		return reject(CodeInsufficientLeave, "requested %s days, only %s remaining", required, remaining)
	}

	for _, r := range existing {
		if r.Status != StatusReserved || !r.Date.Equal(req.Date) {
			continue
		}
		if r.Type == LeaveFull {
			return reject(CodeDuplicateReservation, "a full-day leave is already reserved on %s", req.Date)
		}
		if req.Type == LeaveFull {
			return reject(CodeDuplicateReservation, "a half-day leave is already reserved on %s", req.Date)
		}
		if r.Session == req.Session {
			return reject(CodeInvalidHalfDay, "the %s session on %s is already reserved", req.Session, req.Date)
		}
	}

	if req.Type == LeaveHalf && !req.Session.IsValid() {
		return reject(CodeInvalidHalfDay, "half-day leave requires an AM or PM session")
	}

	return ValidationResult{Valid: true}
}
