/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the repository with realistic
  data for demos. Each scenario creates users, yearly grants, open
  reservations and past usage.

AVAILABLE SCENARIOS:
  sample:         Three users with carried-over grants, reservations and history
  fifo-boundary:  One user whose next approval spans two grant years
  empty:          Clears everything

HOW SCENARIOS WORK:
 1. Reset the repository (clear all data)
 2. Create users
 3. Save grants as they stand (used days already applied)
 4. Create RESERVED reservations
 5. Create past usage records with their deductions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "sample"}

NOTE:
  Scenarios reset the repository. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "sample",
		Name:        "Sample Team",
		Description: "Three users with 2024 carry-over, open reservations and January usage",
	},
	{
		ID:          "fifo-boundary",
		Name:        "FIFO Boundary",
		Description: "Half a day left in 2024; approving the full-day reservation draws from 2024 then 2025",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No users, grants or reservations",
	},
}

var loaders = map[string]func(ctx context.Context, repo leave.Repository) error{
	"sample":        loadSampleScenario,
	"fifo-boundary": loadFIFOBoundaryScenario,
	"empty":         func(context.Context, leave.Repository) error { return nil },
}

// resetter is implemented by every bundled store.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeData(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

// LoadScenario resets the repository and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeFailure(w, http.StatusBadRequest, KindBadRequest, "unknown scenario "+req.ScenarioID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), load); err != nil {
		h.writeError(w, r, &leave.StoreError{Op: "load scenario " + req.ScenarioID, Err: err})
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.InfoContext(r.Context(), "scenario loaded", "scenario", req.ScenarioID)

	writeData(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, load func(context.Context, leave.Repository) error) error {
	rs, ok := h.Repo.(resetter)
	if !ok {
		return errors.New("repository does not support reset")
	}
	h.currentScenario = ""
	if err := rs.Reset(ctx); err != nil {
		return errors.Wrap(err, "reset")
	}
	return load(ctx, h.Repo)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type grantRow struct {
	user              leave.UserID
	year              int
	total, used, left float64
}

type reservationRow struct {
	id      string
	user    leave.UserID
	date    string
	typ     leave.LeaveType
	session leave.Session
	created string
}

type usageRow struct {
	id      string
	user    leave.UserID
	date    string
	typ     leave.LeaveType
	session leave.Session
	year    int
}

func loadSampleScenario(ctx context.Context, repo leave.Repository) error {
	users := []leave.User{
		{ID: "U001", Name: "Kim Cheolsu", JoinDate: leave.MustParseDate("2020-03-01"), GroupID: "G01", Role: leave.RoleUser, Status: leave.UserActive},
		{ID: "U002", Name: "Lee Younghee", JoinDate: leave.MustParseDate("2023-01-15"), GroupID: "G01", Role: leave.RoleUser, Status: leave.UserActive},
		{ID: "U003", Name: "Park Minsu", JoinDate: leave.MustParseDate("2015-06-01"), GroupID: "G02", Role: leave.RoleUser, Status: leave.UserActive},
	}
	grants := []grantRow{
		{"U001", 2024, 17, 16, 1},
		{"U001", 2025, 17, 4.5, 12.5},
		{"U002", 2025, 15, 8.5, 6.5},
		{"U003", 2024, 20, 16.5, 3.5},
		{"U003", 2025, 20, 2, 18},
	}
	reservations := []reservationRow{
		{"rsv-1", "U001", "2025-02-10", leave.LeaveFull, leave.SessionNone, "2025-01-20T09:00:00Z"},
		{"rsv-2", "U001", "2025-03-05", leave.LeaveHalf, leave.SessionPM, "2025-01-22T14:30:00Z"},
		{"rsv-3", "U002", "2025-02-14", leave.LeaveFull, leave.SessionNone, "2025-01-25T10:15:00Z"},
		{"rsv-4", "U003", "2025-03-20", leave.LeaveHalf, leave.SessionAM, "2025-01-26T11:00:00Z"},
		{"rsv-5", "U003", "2025-04-10", leave.LeaveFull, leave.SessionNone, "2025-01-27T08:45:00Z"},
	}
	history := []usageRow{
		{"use-1", "U001", "2025-01-06", leave.LeaveFull, leave.SessionNone, 2024},
		{"use-2", "U001", "2025-01-10", leave.LeaveHalf, leave.SessionAM, 2025},
		{"use-3", "U001", "2025-01-15", leave.LeaveFull, leave.SessionNone, 2025},
		{"use-4", "U001", "2025-01-22", leave.LeaveFull, leave.SessionNone, 2025},
		{"use-5", "U001", "2025-01-24", leave.LeaveFull, leave.SessionNone, 2025},
		{"use-6", "U002", "2025-01-03", leave.LeaveFull, leave.SessionNone, 2025},
		{"use-7", "U002", "2025-01-08", leave.LeaveFull, leave.SessionNone, 2025},
		{"use-8", "U002", "2025-01-13", leave.LeaveHalf, leave.SessionPM, 2025},
	}
	return seed(ctx, repo, users, grants, reservations, history)
}

func loadFIFOBoundaryScenario(ctx context.Context, repo leave.Repository) error {
	users := []leave.User{
		{ID: "U100", Name: "Choi Jiwoo", JoinDate: leave.MustParseDate("2022-07-01"), GroupID: "G01", Role: leave.RoleUser, Status: leave.UserActive},
	}
	grants := []grantRow{
		{"U100", 2024, 15, 14.5, 0.5},
		{"U100", 2025, 15, 0, 15},
	}
	reservations := []reservationRow{
		{"rsv-100", "U100", "2025-03-10", leave.LeaveFull, leave.SessionNone, "2025-03-01T09:00:00Z"},
	}
	return seed(ctx, repo, users, grants, reservations, nil)
}

func seed(ctx context.Context, repo leave.Repository, users []leave.User, grants []grantRow, reservations []reservationRow, history []usageRow) error {
	for _, u := range users {
		if err := repo.SaveUser(ctx, u); err != nil {
			return errors.Wrapf(err, "save user %s", u.ID)
		}
	}

	for _, row := range grants {
		g := leave.Grant{
			UserID:   row.user,
			Year:     row.year,
			Total:    decimal.NewFromFloat(row.total),
			Used:     decimal.NewFromFloat(row.used),
			Remain:   decimal.NewFromFloat(row.left),
			ExpireAt: leave.GrantExpiry(row.year),
		}
		if err := g.Check(); err != nil {
			return err
		}
		if err := repo.SaveGrant(ctx, g); err != nil {
			return errors.Wrapf(err, "save grant %s/%d", row.user, row.year)
		}
	}

	for _, row := range reservations {
		created, err := time.Parse(time.RFC3339, row.created)
		if err != nil {
			return errors.Wrapf(err, "reservation %s", row.id)
		}
		r := leave.Reservation{
			ID:        row.id,
			UserID:    row.user,
			Date:      leave.MustParseDate(row.date),
			Type:      row.typ,
			Session:   row.session,
			Amount:    row.typ.Amount(),
			Status:    leave.StatusReserved,
			CreatedAt: created,
		}
		if err := repo.CreateReservation(ctx, r); err != nil {
			return errors.Wrapf(err, "create reservation %s", row.id)
		}
	}

	for _, row := range history {
		date := leave.MustParseDate(row.date)
		amount := row.typ.Amount()
		u := leave.UsageRecord{
			ID:         row.id,
			UserID:     row.user,
			Date:       date,
			Type:       row.typ,
			Session:    row.session,
			Amount:     amount,
			Weekday:    date.Weekday(),
			Deductions: []leave.Deduction{{Year: row.year, Amount: amount}},
			UsedAt:     date.Time.Add(9 * time.Hour),
		}
		if err := repo.CreateUsageRecord(ctx, u); err != nil {
			return errors.Wrapf(err, "create usage %s", row.id)
		}
	}
	return nil
}
