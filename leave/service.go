/*
service.go - Reservation lifecycle and ledger mutations

PURPOSE:
  Owns every state change of the ledger:
  1. RequestLeave:       validate, then reserve (or consume immediately)
  2. ApproveReservation: allocate across grants, mark USED, record usage
  3. CancelReservation:  mark CANCELLED, balances untouched
  4. ReverseUsage:       restore deductions exactly, delete the record
  Plus grant issuance and the admin used-days correction.

RESERVATION STATES:
  RESERVED ──approve──▶ USED
     │
     └──────cancel────▶ CANCELLED

  USED and CANCELLED are terminal.

CONSISTENCY:
  Each mutation holds the user's lock and runs inside TxStore.WithTx.
  Reads, validation, allocation and all writes happen inside that
  boundary, so two approvals for the same user cannot both draw on the
  same remaining balance, and any failure leaves no partial writes.
  GetStatus and Validate are lock-free reads.

EXAMPLE:
  svc := leave.NewService(store, logger)
  out, err := svc.RequestLeave(ctx, leave.LeaveRequest{
      UserID: "U001", Date: leave.MustParseDate("2025-03-10"), Type: leave.LeaveFull,
  })
  usageID, err := svc.ApproveReservation(ctx, out.ReservationID)

SEE ALSO:
  - validator.go: Request rules
  - allocation.go: FIFO deduction and reversal
  - status.go: Balance aggregation
*/
package leave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service coordinates the leave ledger. Create it with NewService.
type Service struct {
	Store     TxStore
	Validator *RequestValidator
	Engine    *AllocationEngine
	Clock     Clock
	Logger    *slog.Logger

	locks *userLocks
}

// NewService returns a service with a Sunday rule, the real clock and the
// given logger (slog.Default() when nil).
func NewService(store TxStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:     store,
		Validator: NewRequestValidator(time.Sunday),
		Engine:    &AllocationEngine{},
		Clock:     RealClock{},
		Logger:    logger,
		locks:     newUserLocks(),
	}
}

// RequestOutcome identifies what RequestLeave created. Exactly one field is set.
type RequestOutcome struct {
	ReservationID string `json:"reservation_id,omitempty"`
	UsageID       string `json:"usage_id,omitempty"`
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// REQUEST
// =============================================================================

// RequestLeave validates req against the user's remaining balance and
// RESERVED entries, then creates a reservation. Outstanding reservations do
// not reduce the balance checked here; ApproveReservation refuses any that
// no longer fit. With req.Immediate it allocates and records usage instead.
func (s *Service) RequestLeave(ctx context.Context, req LeaveRequest) (*RequestOutcome, error) {
	if req.Type == LeaveFull {
		req.Session = SessionNone
	}

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	var out RequestOutcome
	err := s.Store.WithTx(ctx, func(tx Store) error {
		grants, reserved, err := s.loadBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		status := GetStatus(req.UserID, grants, reserved)
		if err := s.Validator.Validate(req, status.Remain, reserved).Err(); err != nil {
			return err
		}

		if req.Immediate {
			usage, err := s.consume(ctx, tx, grants, UsageRecord{
				UserID:  req.UserID,
				Date:    req.Date,
				Type:    req.Type,
				Session: req.Session,
				Amount:  req.Amount(),
			})
			if err != nil {
				return err
			}
			out.UsageID = usage.ID
			return nil
		}

		r := Reservation{
			ID:        newID("rsv"),
			UserID:    req.UserID,
			Date:      req.Date,
			Type:      req.Type,
			Session:   req.Session,
			Amount:    req.Amount(),
			Status:    StatusReserved,
			CreatedAt: s.Clock.Now().UTC(),
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return wrapStore("create reservation", err)
		}
		out.ReservationID = r.ID
		return nil
	})
	if err != nil {
		err = wrapStore("request leave", err)
		s.logFailure(ctx, "leave request rejected", err, "user_id", req.UserID, "date", req.Date.String())
		return nil, err
	}

	s.Logger.InfoContext(ctx, "leave requested",
		"user_id", req.UserID,
		"date", req.Date.String(),
		"type", req.Type,
		"reservation_id", out.ReservationID,
		"usage_id", out.UsageID,
	)
	return &out, nil
}

// Validate is a dry run of RequestLeave's checks. It takes no lock and
// writes nothing.
func (s *Service) Validate(ctx context.Context, req LeaveRequest) (ValidationResult, error) {
	if req.Type == LeaveFull {
		req.Session = SessionNone
	}
	grants, reserved, err := s.loadBalance(ctx, s.Store, req.UserID)
	if err != nil {
		return ValidationResult{}, err
	}
	status := GetStatus(req.UserID, grants, reserved)
	return s.Validator.Validate(req, status.Remain, reserved), nil
}

// =============================================================================
// APPROVE / CANCEL
// =============================================================================

// ApproveReservation turns a RESERVED reservation into usage. It returns the
// new usage record's ID. On any failure the reservation stays RESERVED and
// no grant changes.
func (s *Service) ApproveReservation(ctx context.Context, id string) (string, error) {
	r, err := s.lockReservation(ctx, id)
	if err != nil {
		return "", err
	}
	defer r.unlock()

	var usageID string
	err = s.Store.WithTx(ctx, func(tx Store) error {
		res, err := s.reservedInTx(ctx, tx, id)
		if err != nil {
			return err
		}

		grants, err := tx.ListGrants(ctx, res.UserID)
		if err != nil {
			return wrapStore("list grants", err)
		}

		if err := tx.UpdateReservationStatus(ctx, id, StatusUsed); err != nil {
			return wrapStore("update reservation", err)
		}

		usage, err := s.consume(ctx, tx, grants, UsageRecord{
			UserID:        res.UserID,
			Date:          res.Date,
			Type:          res.Type,
			Session:       res.Session,
			Amount:        res.Amount,
			ReservationID: res.ID,
		})
		if err != nil {
			return err
		}
		usageID = usage.ID
		return nil
	})
	if err != nil {
		err = wrapStore("approve reservation", err)
		s.logFailure(ctx, "approval failed", err, "reservation_id", id)
		return "", err
	}

	s.Logger.InfoContext(ctx, "reservation approved", "reservation_id", id, "usage_id", usageID)
	return usageID, nil
}

// CancelReservation moves a RESERVED reservation to CANCELLED. Balances
// are unchanged.
func (s *Service) CancelReservation(ctx context.Context, id string) error {
	r, err := s.lockReservation(ctx, id)
	if err != nil {
		return err
	}
	defer r.unlock()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if _, err := s.reservedInTx(ctx, tx, id); err != nil {
			return err
		}
		return wrapStore("update reservation", tx.UpdateReservationStatus(ctx, id, StatusCancelled))
	})
	if err != nil {
		err = wrapStore("cancel reservation", err)
		s.logFailure(ctx, "cancel failed", err, "reservation_id", id)
		return err
	}

	s.Logger.InfoContext(ctx, "reservation cancelled", "reservation_id", id)
	return nil
}

type lockedReservation struct {
	*Reservation
	unlock func()
}

// lockReservation resolves the owner of a reservation and takes their lock.
// The reservation must be re-read inside the transaction.
func (s *Service) lockReservation(ctx context.Context, id string) (*lockedReservation, error) {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, wrapStore("get reservation", err)
	}
	if r == nil {
		return nil, &NotFoundError{Entity: "reservation", ID: id}
	}
	return &lockedReservation{Reservation: r, unlock: s.locks.Lock(r.UserID)}, nil
}

func (s *Service) reservedInTx(ctx context.Context, tx Store, id string) (*Reservation, error) {
	r, err := tx.GetReservation(ctx, id)
	if err != nil {
		return nil, wrapStore("get reservation", err)
	}
	if r == nil {
		return nil, &NotFoundError{Entity: "reservation", ID: id}
	}
	if r.Status.IsTerminal() || !r.Status.IsValid() {
		return nil, &InvalidStateError{ID: id, Status: r.Status, Want: StatusReserved}
	}
	return r, nil
}

// =============================================================================
// USAGE
// =============================================================================

// consume allocates usage.Amount across grants, persists the touched grants
// and the usage record, and returns the record.
func (s *Service) consume(ctx context.Context, tx Store, grants []Grant, usage UsageRecord) (*UsageRecord, error) {
	alloc, err := s.Engine.Allocate(grants, usage.Amount)
	if err != nil {
		return nil, err
	}
	for _, g := range alloc.Touched() {
		if err := tx.SaveGrant(ctx, g); err != nil {
			return nil, wrapStore("save grant", err)
		}
	}

	usage.ID = newID("use")
	usage.Weekday = usage.Date.Weekday()
	usage.Deductions = alloc.Deductions
	usage.UsedAt = s.Clock.Now().UTC()
	if err := tx.CreateUsageRecord(ctx, usage); err != nil {
		return nil, wrapStore("create usage record", err)
	}
	return &usage, nil
}

// ReverseUsage restores the usage's deductions onto their grants and deletes
// the record. A second call for the same id returns *NotFoundError. A linked
// reservation keeps its USED status.
func (s *Service) ReverseUsage(ctx context.Context, id string) error {
	u, err := s.Store.GetUsageRecord(ctx, id)
	if err != nil {
		return wrapStore("get usage record", err)
	}
	if u == nil {
		return &NotFoundError{Entity: "usage", ID: id}
	}
	unlock := s.locks.Lock(u.UserID)
	defer unlock()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		usage, err := tx.GetUsageRecord(ctx, id)
		if err != nil {
			return wrapStore("get usage record", err)
		}
		if usage == nil {
			return &NotFoundError{Entity: "usage", ID: id}
		}

		grants, err := tx.ListGrants(ctx, usage.UserID)
		if err != nil {
			return wrapStore("list grants", err)
		}
		restored, err := s.Engine.Reverse(grants, *usage)
		if err != nil {
			return err
		}

		years := make(map[int]bool, len(usage.Deductions))
		for _, d := range usage.Deductions {
			years[d.Year] = true
		}
		for _, g := range restored {
			if !years[g.Year] {
				continue
			}
			if err := tx.SaveGrant(ctx, g); err != nil {
				return wrapStore("save grant", err)
			}
		}
		return wrapStore("delete usage record", tx.DeleteUsageRecord(ctx, id))
	})
	if err != nil {
		err = wrapStore("reverse usage", err)
		s.logFailure(ctx, "reversal failed", err, "usage_id", id)
		return err
	}

	s.Logger.InfoContext(ctx, "usage reversed", "usage_id", id, "user_id", u.UserID, "amount", u.Amount.String())
	return nil
}

// =============================================================================
// GRANTS
// =============================================================================

// IssueGrant stores g if the user has no grant for g.Year yet. It returns
// the grant now on record and whether it was created by this call. A grant
// that fails Check is rejected with CodeInvalidAmount.
func (s *Service) IssueGrant(ctx context.Context, g Grant) (*Grant, bool, error) {
	if err := g.Check(); err != nil {
		var ie *InvariantError
		if errors.As(err, &ie) {
			err = &ValidationError{Code: CodeInvalidAmount, Message: ie.Reason}
		}
		s.logFailure(ctx, "grant rejected", err, "user_id", g.UserID, "year", g.Year)
		return nil, false, err
	}

	unlock := s.locks.Lock(g.UserID)
	defer unlock()

	var (
		current *Grant
		created bool
	)
	err := s.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetGrant(ctx, g.UserID, g.Year)
		if err != nil {
			return wrapStore("get grant", err)
		}
		if existing != nil {
			current = existing
			return nil
		}
		if err := tx.SaveGrant(ctx, g); err != nil {
			return wrapStore("save grant", err)
		}
		current, created = &g, true
		return nil
	})
	if err != nil {
		return nil, false, wrapStore("issue grant", err)
	}

	if created {
		s.Logger.InfoContext(ctx, "grant issued",
			"user_id", g.UserID, "year", g.Year, "total", g.Total.String(), "expire_at", g.ExpireAt.String())
	}
	return current, created, nil
}

// SetGrantUsed is the administrative correction of a grant's used days.
// Remain is recomputed. Values outside [0, total] or off the half-day step
// are rejected with CodeInvalidAmount.
func (s *Service) SetGrantUsed(ctx context.Context, userID UserID, year int, used decimal.Decimal) (*Grant, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var updated Grant
	err := s.Store.WithTx(ctx, func(tx Store) error {
		g, err := tx.GetGrant(ctx, userID, year)
		if err != nil {
			return wrapStore("get grant", err)
		}
		if g == nil {
			return &NotFoundError{Entity: "grant", ID: fmt.Sprintf("%s/%d", userID, year)}
		}
		if used.IsNegative() || used.GreaterThan(g.Total) || !IsHalfStep(used) {
			return &ValidationError{Code: CodeInvalidAmount,
				Message: fmt.Sprintf("used %s must be a multiple of 0.5 within [0, %s]", used, g.Total)}
		}
		g.Used = used
		g.Remain = g.Total.Sub(used)
		updated = *g
		return wrapStore("save grant", tx.SaveGrant(ctx, updated))
	})
	if err != nil {
		err = wrapStore("set grant used", err)
		s.logFailure(ctx, "grant correction failed", err, "user_id", userID, "year", year)
		return nil, err
	}

	s.Logger.InfoContext(ctx, "grant used corrected", "user_id", userID, "year", year, "used", used.String())
	return &updated, nil
}

// =============================================================================
// READS
// =============================================================================

// GetStatus returns the user's aggregate balance.
func (s *Service) GetStatus(ctx context.Context, userID UserID) (*StatusView, error) {
	grants, reserved, err := s.loadBalance(ctx, s.Store, userID)
	if err != nil {
		return nil, err
	}
	view := GetStatus(userID, grants, reserved)
	return &view, nil
}

func (s *Service) ListReservations(ctx context.Context, userID UserID, filter ReservationFilter) ([]Reservation, error) {
	rs, err := s.Store.ListReservations(ctx, userID, filter)
	return rs, wrapStore("list reservations", err)
}

// ListAllReservations returns reservations of every user matching filter.
func (s *Service) ListAllReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	rs, err := s.Store.ListAllReservations(ctx, filter)
	return rs, wrapStore("list all reservations", err)
}

func (s *Service) ListUsage(ctx context.Context, userID UserID) ([]UsageRecord, error) {
	us, err := s.Store.ListUsageRecords(ctx, userID)
	return us, wrapStore("list usage records", err)
}

// UsageStats returns the user's consumed leave grouped by weekday.
func (s *Service) UsageStats(ctx context.Context, userID UserID) ([]WeekdayUsage, error) {
	us, err := s.ListUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return UsageByWeekday(us), nil
}

func (s *Service) loadBalance(ctx context.Context, st Store, userID UserID) ([]Grant, []Reservation, error) {
	grants, err := st.ListGrants(ctx, userID)
	if err != nil {
		return nil, nil, wrapStore("list grants", err)
	}
	reserved, err := st.ListReservations(ctx, userID, OnlyReserved())
	if err != nil {
		return nil, nil, wrapStore("list reservations", err)
	}
	return grants, reserved, nil
}

func (s *Service) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err.Error(), "kind", string(KindOf(err)))
	if IsClientError(err) {
		s.Logger.InfoContext(ctx, msg, attrs...)
		return
	}
	s.Logger.ErrorContext(ctx, msg, attrs...)
}
