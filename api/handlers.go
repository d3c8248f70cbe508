/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the leave service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to package leave.

ENDPOINTS:
  Users:
    GET    /api/users                         List users
    POST   /api/users                         Create or replace a user
    GET    /api/users/{id}                    Get user
    GET    /api/users/{id}/status             Balance summary
    POST   /api/users/{id}/validate           Dry-run a leave request
    POST   /api/users/{id}/leave              Request leave
    GET    /api/users/{id}/reservations       Reservations (?status=&date=)
    GET    /api/users/{id}/usage              Usage records (?from=&to=)
    GET    /api/users/{id}/stats              Usage by weekday
    POST   /api/users/{id}/grants             Issue a yearly grant
    PUT    /api/users/{id}/grants/{year}      Correct a grant's used days

  Reservations / usage:
    GET    /api/reservations                  All users' reservations (?status=&date=)
    POST   /api/reservations/{id}/approve     Approve
    POST   /api/reservations/{id}/cancel      Cancel
    DELETE /api/usage/{id}                    Reverse a usage record

ERROR HANDLING:
  Errors are returned in the envelope with a status derived from the
  error kind:
  - 400: Malformed body or unknown status filter
  - 404: Unknown user, reservation, usage or grant
  - 409: Reservation not RESERVED, or grants cannot cover the amount
  - 422: Request rule violations (Sunday, duplicates, half-day, balance,
         bad dates, out-of-range grant amounts)
  - 500: Invariant and store failures

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	Repo    leave.Repository
	Logger  *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. svc must be built on repo.
func NewHandler(svc *leave.Service, repo leave.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Repo: repo, Logger: logger}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Repo.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, &leave.StoreError{Op: "list users", Err: err})
		return
	}
	if users == nil {
		users = []leave.User{}
	}
	writeData(w, http.StatusOK, users)
}

// CreateUser creates or replaces a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeFailure(w, http.StatusBadRequest, KindBadRequest, "id and name are required")
		return
	}
	joinDate, err := leave.ParseDate(req.JoinDate)
	if err != nil {
		h.writeError(w, r, &leave.ValidationError{Code: leave.CodeInvalidDate, Message: "join_date must be YYYY-MM-DD"})
		return
	}

	u := leave.User{
		ID:       leave.UserID(req.ID),
		Name:     req.Name,
		JoinDate: joinDate,
		GroupID:  req.GroupID,
		Role:     leave.Role(strings.ToUpper(req.Role)),
		Status:   leave.UserStatus(strings.ToUpper(req.Status)),
	}
	if u.Role == "" {
		u.Role = leave.RoleUser
	}
	if u.Status == "" {
		u.Status = leave.UserActive
	}

	if err := h.Repo.SaveUser(r.Context(), u); err != nil {
		h.writeError(w, r, &leave.StoreError{Op: "save user", Err: err})
		return
	}
	writeData(w, http.StatusCreated, u)
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, u)
}

// GetStatus returns the user's balance summary.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	status, err := h.Service.GetStatus(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

// =============================================================================
// LEAVE REQUEST HANDLERS
// =============================================================================

// ValidateLeave runs the request rules without writing anything.
// A rejected request is still a 200: the verdict is the payload.
func (h *Handler) ValidateLeave(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	req, ok := h.leaveRequest(w, r, u.ID)
	if !ok {
		return
	}
	res, err := h.Service.Validate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// RequestLeave reserves leave, or consumes it when immediate is set.
func (h *Handler) RequestLeave(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	req, ok := h.leaveRequest(w, r, u.ID)
	if !ok {
		return
	}
	out, err := h.Service.RequestLeave(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, out)
}

// ListReservations returns the user's reservations, optionally by status
// and date.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	filter, ok := h.reservationFilter(w, r)
	if !ok {
		return
	}
	rs, err := h.Service.ListReservations(r.Context(), u.ID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []leave.Reservation{}
	}
	writeData(w, http.StatusOK, rs)
}

// ListUsage returns the user's usage records, optionally limited to the
// inclusive range [from, to].
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	from, ok := h.queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.queryDate(w, r, "to")
	if !ok {
		return
	}
	us, err := h.Service.ListUsage(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]leave.UsageRecord, 0, len(us))
	for _, rec := range us {
		if from != nil && rec.Date.Before(*from) {
			continue
		}
		if to != nil && rec.Date.After(*to) {
			continue
		}
		out = append(out, rec)
	}
	writeData(w, http.StatusOK, out)
}

// GetStats returns consumed leave grouped by weekday.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	stats, err := h.Service.UsageStats(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// =============================================================================
// RESERVATION / USAGE HANDLERS
// =============================================================================

// ListAllReservations returns reservations across all users, optionally
// by status and date.
func (h *Handler) ListAllReservations(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.reservationFilter(w, r)
	if !ok {
		return
	}
	rs, err := h.Service.ListAllReservations(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []leave.Reservation{}
	}
	writeData(w, http.StatusOK, rs)
}

// ApproveReservation approves a RESERVED reservation.
func (h *Handler) ApproveReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	usageID, err := h.Service.ApproveReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ApproveResponse{ReservationID: id, UsageID: usageID})
}

// CancelReservation cancels a RESERVED reservation.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.CancelReservation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

// ReverseUsage restores a usage record's deductions and deletes it.
func (h *Handler) ReverseUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ReverseUsage(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

// =============================================================================
// GRANT HANDLERS (admin)
// =============================================================================

// IssueGrant creates the user's grant for a year if it does not exist.
func (h *Handler) IssueGrant(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req IssueGrantRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Year < 1 {
		writeFailure(w, http.StatusBadRequest, KindBadRequest, "year is required")
		return
	}

	g := leave.AnnualGrant(*u, req.Year)
	if req.Total != nil {
		g = leave.NewGrant(u.ID, req.Year, *req.Total, leave.GrantExpiry(req.Year))
	}

	current, created, err := h.Service.IssueGrant(r.Context(), g)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, IssueGrantResponse{Grant: *current, Created: created})
}

// SetGrantUsed corrects a grant's used days.
func (h *Handler) SetGrantUsed(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, KindBadRequest, "year must be an integer")
		return
	}
	var req SetGrantUsedRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.Service.SetGrantUsed(r.Context(), leave.UserID(chi.URLParam(r, "id")), year, req.Used)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, g)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*leave.User, bool) {
	id := chi.URLParam(r, "id")
	u, err := h.Repo.GetUser(r.Context(), leave.UserID(id))
	if err != nil {
		h.writeError(w, r, &leave.StoreError{Op: "get user", Err: err})
		return nil, false
	}
	if u == nil {
		h.writeError(w, r, &leave.NotFoundError{Entity: "user", ID: id})
		return nil, false
	}
	return u, true
}

// leaveRequest decodes the body. An unparseable date is reported as an
// INVALID_DATE rule failure rather than a malformed body.
func (h *Handler) leaveRequest(w http.ResponseWriter, r *http.Request, userID leave.UserID) (leave.LeaveRequest, bool) {
	var body LeaveRequestBody
	if !decode(w, r, &body) {
		return leave.LeaveRequest{}, false
	}
	date, err := leave.ParseDate(body.Date)
	if err != nil {
		h.writeError(w, r, &leave.ValidationError{Code: leave.CodeInvalidDate, Message: "date must be YYYY-MM-DD"})
		return leave.LeaveRequest{}, false
	}
	return leave.LeaveRequest{
		UserID:    userID,
		Date:      date,
		Type:      leave.LeaveType(strings.ToUpper(body.Type)),
		Session:   leave.Session(strings.ToUpper(body.Session)),
		Immediate: body.Immediate,
	}, true
}

// reservationFilter reads the optional status and date query parameters.
func (h *Handler) reservationFilter(w http.ResponseWriter, r *http.Request) (leave.ReservationFilter, bool) {
	var filter leave.ReservationFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := leave.ReservationStatus(strings.ToUpper(s))
		if !status.IsValid() {
			writeFailure(w, http.StatusBadRequest, KindBadRequest, "unknown status "+s)
			return filter, false
		}
		filter.Status = &status
	}
	date, ok := h.queryDate(w, r, "date")
	if !ok {
		return filter, false
	}
	filter.Date = date
	return filter, true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func (h *Handler) queryDate(w http.ResponseWriter, r *http.Request, name string) (*leave.Date, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, true
	}
	d, err := leave.ParseDate(s)
	if err != nil {
		h.writeError(w, r, &leave.ValidationError{Code: leave.CodeInvalidDate, Message: name + " must be YYYY-MM-DD"})
		return nil, false
	}
	return &d, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, KindBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind leave.ErrorKind) int {
	switch kind {
	case leave.KindNotFound:
		return http.StatusNotFound
	case leave.KindInvalidState, leave.KindAllocation:
		return http.StatusConflict
	case leave.KindInvariant, leave.KindStore, leave.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	res := leave.ResultOf(err)
	status := statusFor(res.Error)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err.Error(), "kind", string(res.Error))
		// Internal details stay in the log.
		if !errors.Is(err, leave.ErrInvariantViolation) {
			res.Message = "internal error"
		}
	}
	writeFailure(w, status, res.Error, res.Message)
}

func writeFailure(w http.ResponseWriter, status int, kind leave.ErrorKind, message string) {
	writeJSON(w, status, Envelope{Error: kind, Message: message})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
