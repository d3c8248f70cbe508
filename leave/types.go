/*
types.go - Core domain types for the leave ledger

PURPOSE:
  Defines users, per-year grants, reservations and usage records.
  Everything else in the package (validation, allocation, status,
  the reservation state machine) operates on these types.

AMOUNTS:
  All quantities are decimal.Decimal in days. A full day is 1.0 and a
  half day is 0.5; every stored total/used/remain/amount is a multiple
  of 0.5.

GRANT INVARIANT:
  remain == total - used, 0 <= remain <= total.
  Grant.Check() reports a violation as *InvariantError.

SEE ALSO:
  - time.go: Date type
  - allocation.go: FIFO deduction across grants
  - service.go: Reservation lifecycle
*/
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNTS
// =============================================================================

var (
	// Half is the amount consumed by a half-day leave.
	Half = decimal.NewFromFloat(0.5)
	// One is the amount consumed by a full-day leave.
	One = decimal.NewFromInt(1)
)

// Days converts a float into a decimal day amount.
func Days(d float64) decimal.Decimal {
	return decimal.NewFromFloat(d)
}

// IsHalfStep reports whether d is a multiple of 0.5.
func IsHalfStep(d decimal.Decimal) bool {
	return d.Mul(decimal.NewFromInt(2)).IsInteger()
}

// =============================================================================
// USERS
// =============================================================================

type UserID string

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
	RoleView  Role = "VIEW"
)

type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
	UserResigned UserStatus = "RESIGNED"
)

// User is read-only to the engine. JoinDate drives entitlement.
type User struct {
	ID       UserID     `json:"id"`
	Name     string     `json:"name"`
	JoinDate Date       `json:"join_date"`
	GroupID  string     `json:"group_id,omitempty"`
	Role     Role       `json:"role"`
	Status   UserStatus `json:"status"`
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveType string

const (
	LeaveFull LeaveType = "FULL"
	LeaveHalf LeaveType = "HALF"
)

func (t LeaveType) IsValid() bool {
	return t == LeaveFull || t == LeaveHalf
}

// Amount is the number of days a request of this type consumes.
func (t LeaveType) Amount() decimal.Decimal {
	if t == LeaveHalf {
		return Half
	}
	return One
}

type Session string

const (
	SessionNone Session = ""
	SessionAM   Session = "AM"
	SessionPM   Session = "PM"
)

func (s Session) IsValid() bool {
	return s == SessionAM || s == SessionPM
}

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "RESERVED"
	StatusUsed      ReservationStatus = "USED"
	StatusCancelled ReservationStatus = "CANCELLED"
)

func (s ReservationStatus) IsValid() bool {
	switch s {
	case StatusReserved, StatusUsed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusUsed || s == StatusCancelled
}

// =============================================================================
// GRANTS
// =============================================================================

// Grant is one year's leave entitlement for a user. Keyed by (UserID, Year).
type Grant struct {
	UserID   UserID          `json:"user_id"`
	Year     int             `json:"year"`
	Total    decimal.Decimal `json:"total"`
	Used     decimal.Decimal `json:"used"`
	Remain   decimal.Decimal `json:"remain"`
	ExpireAt Date            `json:"expire_at"`
}

// NewGrant creates an unused grant.
func NewGrant(userID UserID, year int, total decimal.Decimal, expireAt Date) Grant {
	return Grant{
		UserID:   userID,
		Year:     year,
		Total:    total,
		Used:     decimal.Zero,
		Remain:   total,
		ExpireAt: expireAt,
	}
}

// Check verifies the grant invariant.
func (g Grant) Check() error {
	var reason string
	switch {
	case !g.Remain.Equal(g.Total.Sub(g.Used)):
		reason = fmt.Sprintf("remain %s != total %s - used %s", g.Remain, g.Total, g.Used)
	case g.Remain.IsNegative():
		reason = fmt.Sprintf("remain %s is negative", g.Remain)
	case g.Remain.GreaterThan(g.Total):
		reason = fmt.Sprintf("remain %s exceeds total %s", g.Remain, g.Total)
	case !IsHalfStep(g.Total) || !IsHalfStep(g.Used):
		reason = "amounts must be multiples of 0.5"
	default:
		return nil
	}
	return &InvariantError{UserID: g.UserID, Year: g.Year, Reason: reason}
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// Reservation is a pending leave request. Only RESERVED entries count
// toward Reserved and toward date conflicts.
type Reservation struct {
	ID        string            `json:"id"`
	UserID    UserID            `json:"user_id"`
	Date      Date              `json:"date"`
	Type      LeaveType         `json:"type"`
	Session   Session           `json:"session,omitempty"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// ReservationFilter narrows ListReservations. Nil fields match everything.
type ReservationFilter struct {
	Status *ReservationStatus
	Date   *Date
}

func (f ReservationFilter) Matches(r Reservation) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Date != nil && !r.Date.Equal(*f.Date) {
		return false
	}
	return true
}

// OnlyReserved is the filter used for balance and conflict checks.
func OnlyReserved() ReservationFilter {
	s := StatusReserved
	return ReservationFilter{Status: &s}
}

// =============================================================================
// USAGE RECORDS
// =============================================================================

// Deduction is the amount taken from one grant year.
type Deduction struct {
	Year   int             `json:"year"`
	Amount decimal.Decimal `json:"amount"`
}

// UsageRecord is a consumed leave with the exact per-grant provenance
// needed to reverse it.
type UsageRecord struct {
	ID            string          `json:"id"`
	UserID        UserID          `json:"user_id"`
	Date          Date            `json:"date"`
	Type          LeaveType       `json:"type"`
	Session       Session         `json:"session,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Weekday       time.Weekday    `json:"weekday"`
	Deductions    []Deduction     `json:"deductions"`
	ReservationID string          `json:"reservation_id,omitempty"`
	UsedAt        time.Time       `json:"used_at"`
}

// SourceYear is the first grant year the usage was drawn from, or 0.
func (u UsageRecord) SourceYear() int {
	if len(u.Deductions) == 0 {
		return 0
	}
	return u.Deductions[0].Year
}

// DeductedTotal sums the deductions; equals Amount for a well-formed record.
func (u UsageRecord) DeductedTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range u.Deductions {
		sum = sum.Add(d.Amount)
	}
	return sum
}
