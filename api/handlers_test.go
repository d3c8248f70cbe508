/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Status, validation and leave requests against the sample scenario
- Approve / cancel / reverse lifecycle and FIFO deductions over HTTP
- Grant issuance and correction
- Error kind to status code mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/leave/store"
)

// =============================================================================
// HELPERS
// =============================================================================

type testEnv struct {
	router http.Handler
	repo   *store.Memory
	svc    *leave.Service
}

func newTestEnv(t *testing.T, scenario string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewMemory()
	svc := leave.NewService(repo, logger)
	h := NewHandler(svc, repo, logger)
	env := &testEnv{router: NewRouter(h, config.NewTestConfig().CORS), repo: repo, svc: svc}
	if scenario != "" {
		rec, _ := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: scenario})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return env
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

func assertDays(t *testing.T, want float64, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, got.Equal(leave.Days(want)), "want %v days, got %s", want, got)
}

func (e *testEnv) status(t *testing.T, userID string) leave.StatusView {
	t.Helper()
	rec, env := e.do(t, http.MethodGet, "/api/users/"+userID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData[leave.StatusView](t, env)
}

// =============================================================================
// STATUS
// =============================================================================

func TestGetStatus_SampleScenario(t *testing.T) {
	env := newTestEnv(t, "sample")

	s := env.status(t, "U001")

	assertDays(t, 34, s.Total)
	assertDays(t, 20.5, s.Used)
	assertDays(t, 13.5, s.Remain)
	assertDays(t, 1.5, s.Reserved)
	assertDays(t, 12, s.Available)
	require.Len(t, s.Balances, 2)
	assert.Equal(t, 2024, s.Balances[0].Year)
	require.NotNil(t, s.NearestExpiry)
	assert.Equal(t, 2024, s.NearestExpiry.Year)
	assert.Equal(t, "2025-12-31", s.NearestExpiry.ExpireAt.String())
}

func TestGetStatus_UnknownUser(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodGet, "/api/users/U999/status", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, string(leave.KindNotFound), body.Error)
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func TestRequestLeave_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body any
		code int
		kind string
	}{
		{
			name: "sunday",
			body: LeaveRequestBody{Date: "2025-03-09", Type: "FULL"},
			code: http.StatusUnprocessableEntity,
			kind: string(leave.CodeSundayNotAllowed),
		},
		{
			name: "full day already reserved",
			body: LeaveRequestBody{Date: "2025-02-10", Type: "HALF", Session: "AM"},
			code: http.StatusUnprocessableEntity,
			kind: string(leave.CodeDuplicateReservation),
		},
		{
			name: "same half-day session",
			body: LeaveRequestBody{Date: "2025-03-05", Type: "HALF", Session: "PM"},
			code: http.StatusUnprocessableEntity,
			kind: string(leave.CodeInvalidHalfDay),
		},
		{
			name: "half day without session",
			body: LeaveRequestBody{Date: "2025-03-12", Type: "HALF"},
			code: http.StatusUnprocessableEntity,
			kind: string(leave.CodeInvalidHalfDay),
		},
		{
			name: "unparseable date",
			body: LeaveRequestBody{Date: "2025-13-01", Type: "FULL"},
			code: http.StatusUnprocessableEntity,
			kind: string(leave.CodeInvalidDate),
		},
		{
			name: "unknown type",
			body: LeaveRequestBody{Date: "2025-03-12", Type: "QUARTER"},
			code: http.StatusUnprocessableEntity,
			kind: string(leave.CodeInvalidLeaveType),
		},
		{
			name: "malformed body",
			body: `{"date":`,
			code: http.StatusBadRequest,
			kind: string(KindBadRequest),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "sample")

			rec, body := env.do(t, http.MethodPost, "/api/users/U001/leave", tt.body)

			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, body.Error)

			// Nothing was written.
			rs, err := env.repo.ListReservations(context.Background(), "U001", leave.ReservationFilter{})
			require.NoError(t, err)
			assert.Len(t, rs, 2)
		})
	}
}

func TestRequestLeave_OtherHalfOfReservedDay(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodPost, "/api/users/U001/leave",
		LeaveRequestBody{Date: "2025-03-05", Type: "half", Session: "am"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeData[leave.RequestOutcome](t, body)
	assert.NotEmpty(t, out.ReservationID)
	assert.Empty(t, out.UsageID)

	s := env.status(t, "U001")
	assertDays(t, 2, s.Reserved)
	assertDays(t, 13.5, s.Remain)
}

func TestRequestLeave_ChecksRemainOnly(t *testing.T) {
	env := newTestEnv(t, "sample")
	ctx := context.Background()
	// One day left for U002, already held by the 2025-02-14 reservation.
	_, err := env.svc.SetGrantUsed(ctx, "U002", 2025, leave.Days(14))
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodPost, "/api/users/U002/leave", LeaveRequestBody{Date: "2025-03-12", Type: "HALF", Session: "AM"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeData[leave.RequestOutcome](t, body).ReservationID

	// Approving the earlier reservation uses the last day.
	rec, _ = env.do(t, http.MethodPost, "/api/reservations/rsv-3/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = env.do(t, http.MethodPost, "/api/reservations/"+id+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(leave.KindAllocation), body.Error)
	assertDays(t, 0, env.status(t, "U002").Remain)

	rec, body = env.do(t, http.MethodPost, "/api/users/U002/leave", LeaveRequestBody{Date: "2025-03-13", Type: "HALF", Session: "PM"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(leave.CodeInsufficientLeave), body.Error)
}

func TestRequestLeave_Immediate(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodPost, "/api/users/U001/leave",
		LeaveRequestBody{Date: "2025-03-12", Type: "FULL", Immediate: true})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeData[leave.RequestOutcome](t, body)
	assert.NotEmpty(t, out.UsageID)

	s := env.status(t, "U001")
	assertDays(t, 12.5, s.Remain)
	// 2024 is drained first.
	assertDays(t, 0, s.Balances[0].Remain)
}

func TestValidateLeave_ReportsVerdict(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodPost, "/api/users/U001/validate", LeaveRequestBody{Date: "2025-03-09", Type: "FULL"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeData[leave.ValidationResult](t, body)
	assert.False(t, res.Valid)
	assert.Equal(t, leave.CodeSundayNotAllowed, res.Code)

	rec, body = env.do(t, http.MethodPost, "/api/users/U001/validate", LeaveRequestBody{Date: "2025-03-10", Type: "FULL"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeData[leave.ValidationResult](t, body).Valid)

	rs, err := env.repo.ListReservations(context.Background(), "U001", leave.ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, rs, 2, "validate must not create reservations")
}

func TestListReservations_StatusFilter(t *testing.T) {
	env := newTestEnv(t, "sample")
	rec, _ := env.do(t, http.MethodPost, "/api/reservations/rsv-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/users/U001/reservations?status=reserved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rs := decodeData[[]leave.Reservation](t, body)
	require.Len(t, rs, 1)
	assert.Equal(t, "rsv-2", rs[0].ID)

	rec, body = env.do(t, http.MethodGet, "/api/users/U001/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]leave.Reservation](t, body), 2)

	rec, body = env.do(t, http.MethodGet, "/api/users/U001/reservations?status=PENDING", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(KindBadRequest), body.Error)
}

func TestListAllReservations(t *testing.T) {
	// GIVEN: The sample scenario with five RESERVED entries across three users
	env := newTestEnv(t, "sample")
	rec, _ := env.do(t, http.MethodPost, "/api/reservations/rsv-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: Listing without a user
	rec, body := env.do(t, http.MethodGet, "/api/reservations", nil)

	// THEN: Every user's reservations come back ordered by date
	require.Equal(t, http.StatusOK, rec.Code)
	ids := func(rs []leave.Reservation) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"rsv-1", "rsv-3", "rsv-2", "rsv-4", "rsv-5"}, ids(decodeData[[]leave.Reservation](t, body)))

	rec, body = env.do(t, http.MethodGet, "/api/reservations?status=reserved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rsv-3", "rsv-2", "rsv-4", "rsv-5"}, ids(decodeData[[]leave.Reservation](t, body)))

	rec, body = env.do(t, http.MethodGet, "/api/reservations?date=2025-02-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rsv-1"}, ids(decodeData[[]leave.Reservation](t, body)))

	rec, body = env.do(t, http.MethodGet, "/api/reservations?status=RESERVED&date=2025-02-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]leave.Reservation](t, body))

	rec, body = env.do(t, http.MethodGet, "/api/reservations?status=PENDING", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(KindBadRequest), body.Error)

	rec, body = env.do(t, http.MethodGet, "/api/reservations?date=2025-13-01", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(leave.CodeInvalidDate), body.Error)
}

func TestListReservations_DateFilter(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodGet, "/api/users/U001/reservations?date=2025-03-05", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rs := decodeData[[]leave.Reservation](t, body)
	require.Len(t, rs, 1)
	assert.Equal(t, "rsv-2", rs[0].ID)
}

func TestListUsage_DateRange(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodGet, "/api/users/U001/usage?from=2025-01-10&to=2025-01-22", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	us := decodeData[[]leave.UsageRecord](t, body)
	require.Len(t, us, 3)
	assert.Equal(t, "use-2", us[0].ID)
	assert.Equal(t, "use-4", us[2].ID)

	rec, body = env.do(t, http.MethodGet, "/api/users/U001/usage?from=2025-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]leave.UsageRecord](t, body))

	rec, body = env.do(t, http.MethodGet, "/api/users/U001/usage?to=yesterday", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(leave.CodeInvalidDate), body.Error)
}

// =============================================================================
// RESERVATION LIFECYCLE
// =============================================================================

func TestApproveReservation_SpansGrantYears(t *testing.T) {
	env := newTestEnv(t, "fifo-boundary")

	rec, body := env.do(t, http.MethodPost, "/api/reservations/rsv-100/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeData[ApproveResponse](t, body)
	assert.Equal(t, "rsv-100", approved.ReservationID)
	require.NotEmpty(t, approved.UsageID)

	rec, body = env.do(t, http.MethodGet, "/api/users/U100/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decodeData[[]leave.UsageRecord](t, body)
	require.Len(t, usage, 1)
	assert.Equal(t, "rsv-100", usage[0].ReservationID)
	require.Len(t, usage[0].Deductions, 2)
	assert.Equal(t, 2024, usage[0].Deductions[0].Year)
	assertDays(t, 0.5, usage[0].Deductions[0].Amount)
	assert.Equal(t, 2025, usage[0].Deductions[1].Year)
	assertDays(t, 0.5, usage[0].Deductions[1].Amount)

	s := env.status(t, "U100")
	assertDays(t, 14.5, s.Remain)
	assertDays(t, 0, s.Reserved)

	// Second approval is refused and changes nothing.
	rec, body = env.do(t, http.MethodPost, "/api/reservations/rsv-100/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(leave.KindInvalidState), body.Error)
	assertDays(t, 14.5, env.status(t, "U100").Remain)
}

func TestReverseUsage_RestoresEachYear(t *testing.T) {
	env := newTestEnv(t, "fifo-boundary")
	rec, body := env.do(t, http.MethodPost, "/api/reservations/rsv-100/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usageID := decodeData[ApproveResponse](t, body).UsageID

	rec, _ = env.do(t, http.MethodDelete, "/api/usage/"+usageID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s := env.status(t, "U100")
	assertDays(t, 15.5, s.Remain)
	assertDays(t, 0.5, s.Balances[0].Remain)
	assertDays(t, 15, s.Balances[1].Remain)

	rec, body = env.do(t, http.MethodDelete, "/api/usage/"+usageID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(leave.KindNotFound), body.Error)
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, _ := env.do(t, http.MethodPost, "/api/reservations/rsv-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDays(t, 0.5, env.status(t, "U001").Reserved)

	rec, body := env.do(t, http.MethodPost, "/api/reservations/rsv-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(leave.KindInvalidState), body.Error)

	rec, body = env.do(t, http.MethodPost, "/api/reservations/rsv-1/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(leave.KindInvalidState), body.Error)
}

func TestApproveReservation_Unknown(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodPost, "/api/reservations/nope/approve", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(leave.KindNotFound), body.Error)
}

// =============================================================================
// USERS, GRANTS, STATS
// =============================================================================

func TestCreateAndGetUser(t *testing.T) {
	env := newTestEnv(t, "")

	rec, _ := env.do(t, http.MethodPost, "/api/users", CreateUserRequest{ID: "U010", Name: "Han", JoinDate: "2024-09-02"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body := env.do(t, http.MethodGet, "/api/users/U010", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decodeData[leave.User](t, body)
	assert.Equal(t, "Han", u.Name)
	assert.Equal(t, leave.RoleUser, u.Role)
	assert.Equal(t, leave.UserActive, u.Status)
	assert.Equal(t, "2024-09-02", u.JoinDate.String())

	rec, body = env.do(t, http.MethodPost, "/api/users", CreateUserRequest{ID: "U011", Name: "Oh", JoinDate: "yesterday"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(leave.CodeInvalidDate), body.Error)

	rec, body = env.do(t, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]leave.User](t, body), 1)
}

func TestIssueGrant_Idempotent(t *testing.T) {
	env := newTestEnv(t, "sample")

	// U002 joined 2023-01-15: two full years on 2026-01-01.
	rec, body := env.do(t, http.MethodPost, "/api/users/U002/grants", map[string]int{"year": 2026})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeData[IssueGrantResponse](t, body)
	assert.True(t, first.Created)
	assertDays(t, 15, first.Grant.Total)
	assertDays(t, 15, first.Grant.Remain)
	assert.Equal(t, "2027-12-31", first.Grant.ExpireAt.String())

	rec, body = env.do(t, http.MethodPost, "/api/users/U002/grants", map[string]any{"year": 2026, "total": 30})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeData[IssueGrantResponse](t, body)
	assert.False(t, second.Created)
	// The existing grant is kept.
	assertDays(t, 15, second.Grant.Total)
}

func TestIssueGrant_ExplicitTotal(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodPost, "/api/users/U003/grants", map[string]any{"year": 2026, "total": "22.5"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assertDays(t, 22.5, decodeData[IssueGrantResponse](t, body).Grant.Total)
}

func TestIssueGrant_RejectsBadTotal(t *testing.T) {
	env := newTestEnv(t, "sample")

	for _, bad := range []any{-3, "15.25"} {
		rec, body := env.do(t, http.MethodPost, "/api/users/U003/grants", map[string]any{"year": 2026, "total": bad})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "total=%v", bad)
		assert.Equal(t, string(leave.CodeInvalidAmount), body.Error, "total=%v", bad)
	}

	g, err := env.repo.GetGrant(context.Background(), "U003", 2026)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestSetGrantUsed(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodPut, "/api/users/U002/grants/2025", map[string]any{"used": 9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	g := decodeData[leave.Grant](t, body)
	assertDays(t, 9, g.Used)
	assertDays(t, 6, g.Remain)

	for _, bad := range []any{16, -1, "2.25"} {
		rec, body = env.do(t, http.MethodPut, "/api/users/U002/grants/2025", map[string]any{"used": bad})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "used=%v", bad)
		assert.Equal(t, string(leave.CodeInvalidAmount), body.Error, "used=%v", bad)
	}
	assertDays(t, 9, env.status(t, "U002").Used)

	rec, body = env.do(t, http.MethodPut, "/api/users/U002/grants/2019", map[string]any{"used": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(leave.KindNotFound), body.Error)

	rec, _ = env.do(t, http.MethodPut, "/api/users/U002/grants/next", map[string]any{"used": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStats_GroupsByWeekday(t *testing.T) {
	env := newTestEnv(t, "sample")

	rec, body := env.do(t, http.MethodGet, "/api/users/U001/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData[[]leave.WeekdayUsage](t, body)
	require.Len(t, stats, 7)
	byDay := map[string]leave.WeekdayUsage{}
	for _, s := range stats {
		byDay[s.Weekday] = s
	}
	assertDays(t, 1, byDay["MON"].TotalUsed)
	assertDays(t, 2, byDay["WED"].TotalUsed)
	assertDays(t, 1.5, byDay["FRI"].TotalUsed)
	assert.Equal(t, 2, byDay["FRI"].Count)
	assertDays(t, 0, byDay["SUN"].TotalUsed)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	rec, body := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
}
