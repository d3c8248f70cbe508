package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
)

func TestGetStatus_Aggregates(t *testing.T) {
	grants := []leave.Grant{grant(2025, 17, 4.5), grant(2024, 17, 16)}
	other := grant(2025, 20, 0)
	other.UserID = "U002"
	grants = append(grants, other)

	reservations := []leave.Reservation{
		reserved("r1", wednesday, leave.LeaveFull, leave.SessionNone),
		reserved("r2", monday, leave.LeaveHalf, leave.SessionAM),
		{ID: "r3", UserID: "U001", Date: monday, Type: leave.LeaveFull, Amount: leave.One, Status: leave.StatusUsed},
		{ID: "r4", UserID: "U002", Date: monday, Type: leave.LeaveFull, Amount: leave.One, Status: leave.StatusReserved},
	}

	view := leave.GetStatus("U001", grants, reservations)

	assertDays(t, 34, view.Total)
	assertDays(t, 20.5, view.Used)
	assertDays(t, 13.5, view.Remain)
	assertDays(t, 1.5, view.Reserved)
	assertDays(t, 12, view.Available)

	require.Len(t, view.Balances, 2)
	assert.Equal(t, 2024, view.Balances[0].Year)
	assert.Equal(t, 2025, view.Balances[1].Year)

	require.NotNil(t, view.NearestExpiry)
	assert.Equal(t, 2024, view.NearestExpiry.Year)
	assertDays(t, 1, view.NearestExpiry.Amount)
	assert.Equal(t, "2025-12-31", view.NearestExpiry.ExpireAt.String())
}

func TestGetStatus_NearestExpirySkipsExhausted(t *testing.T) {
	grants := []leave.Grant{grant(2024, 15, 15), grant(2025, 16, 2)}

	view := leave.GetStatus("U001", grants, nil)

	require.NotNil(t, view.NearestExpiry)
	assert.Equal(t, 2025, view.NearestExpiry.Year)
}

func TestGetStatus_Empty(t *testing.T) {
	view := leave.GetStatus("U404", nil, nil)

	assert.Nil(t, view.NearestExpiry)
	assert.NotNil(t, view.Balances)
	assertDays(t, 0, view.Total)
	assertDays(t, 0, view.Available)
}

func TestGetStatus_AvailableFloorsAtZero(t *testing.T) {
	grants := []leave.Grant{grant(2025, 15, 14.5)}
	reservations := []leave.Reservation{reserved("r1", monday, leave.LeaveFull, leave.SessionNone)}

	view := leave.GetStatus("U001", grants, reservations)

	assertDays(t, 0, view.Available)
	assertDays(t, 0.5, view.Remain)
}
