// Package storetest holds behaviour tests shared by every leave.Repository
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
)

// Run exercises repo against the Store, TxStore and UserStore contracts.
// newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) leave.Repository) {
	t.Run("users", func(t *testing.T) { testUsers(t, newRepo(t)) })
	t.Run("grants", func(t *testing.T) { testGrants(t, newRepo(t)) })
	t.Run("reservations", func(t *testing.T) { testReservations(t, newRepo(t)) })
	t.Run("usage", func(t *testing.T) { testUsage(t, newRepo(t)) })
	t.Run("tx commit", func(t *testing.T) { testTxCommit(t, newRepo(t)) })
	t.Run("tx rollback", func(t *testing.T) { testTxRollback(t, newRepo(t)) })
}

func testUsers(t *testing.T, repo leave.Repository) {
	ctx := context.Background()

	u, err := repo.GetUser(ctx, "U001")
	require.NoError(t, err)
	assert.Nil(t, u)

	want := leave.User{
		ID:       "U001",
		Name:     "Kim",
		JoinDate: leave.MustParseDate("2020-03-01"),
		GroupID:  "G01",
		Role:     leave.RoleUser,
		Status:   leave.UserActive,
	}
	require.NoError(t, repo.SaveUser(ctx, want))
	require.NoError(t, repo.SaveUser(ctx, leave.User{ID: "U002", Name: "Lee", JoinDate: leave.MustParseDate("2023-01-15"), Role: leave.RoleAdmin, Status: leave.UserActive}))

	got, err := repo.GetUser(ctx, "U001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, cmp.Diff(want, *got))

	want.Name = "Kim Minsu"
	require.NoError(t, repo.SaveUser(ctx, want))
	all, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, leave.UserID("U001"), all[0].ID)
	assert.Equal(t, "Kim Minsu", all[0].Name)
}

func testGrants(t *testing.T, repo leave.Repository) {
	ctx := context.Background()

	g, err := repo.GetGrant(ctx, "U001", 2025)
	require.NoError(t, err)
	assert.Nil(t, g)

	g2025 := leave.NewGrant("U001", 2025, leave.Days(17), leave.GrantExpiry(2025))
	g2024 := leave.Grant{UserID: "U001", Year: 2024, Total: leave.Days(17), Used: leave.Days(16), Remain: leave.One, ExpireAt: leave.GrantExpiry(2024)}
	other := leave.NewGrant("U002", 2025, leave.Days(15), leave.GrantExpiry(2025))
	for _, g := range []leave.Grant{g2025, g2024, other} {
		require.NoError(t, repo.SaveGrant(ctx, g))
	}

	list, err := repo.ListGrants(ctx, "U001")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Empty(t, cmp.Diff([]leave.Grant{g2024, g2025}, list))

	g2025.Used = leave.Days(4.5)
	g2025.Remain = leave.Days(12.5)
	require.NoError(t, repo.SaveGrant(ctx, g2025))

	got, err := repo.GetGrant(ctx, "U001", 2025)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, cmp.Diff(g2025, *got))
}

func testReservations(t *testing.T, repo leave.Repository) {
	ctx := context.Background()
	created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	r1 := leave.Reservation{ID: "r1", UserID: "U001", Date: leave.MustParseDate("2025-03-05"), Type: leave.LeaveHalf, Session: leave.SessionAM, Amount: leave.Half, Status: leave.StatusReserved, CreatedAt: created}
	r2 := leave.Reservation{ID: "r2", UserID: "U001", Date: leave.MustParseDate("2025-02-10"), Type: leave.LeaveFull, Amount: leave.One, Status: leave.StatusReserved, CreatedAt: created.Add(time.Hour)}
	r3 := leave.Reservation{ID: "r3", UserID: "U002", Date: leave.MustParseDate("2025-02-10"), Type: leave.LeaveFull, Amount: leave.One, Status: leave.StatusReserved, CreatedAt: created}
	for _, r := range []leave.Reservation{r1, r2, r3} {
		require.NoError(t, repo.CreateReservation(ctx, r))
	}
	assert.Error(t, repo.CreateReservation(ctx, r1), "duplicate id")

	missing, err := repo.GetReservation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := repo.ListReservations(ctx, "U001", leave.ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]leave.Reservation{r2, r1}, all))

	require.NoError(t, repo.UpdateReservationStatus(ctx, "r2", leave.StatusCancelled))
	got, err := repo.GetReservation(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, leave.StatusCancelled, got.Status)

	open, err := repo.ListReservations(ctx, "U001", leave.OnlyReserved())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "r1", open[0].ID)

	d := leave.MustParseDate("2025-02-10")
	onDate, err := repo.ListReservations(ctx, "U001", leave.ReservationFilter{Date: &d})
	require.NoError(t, err)
	require.Len(t, onDate, 1)
	assert.Equal(t, "r2", onDate[0].ID)

	everyone, err := repo.ListAllReservations(ctx, leave.ReservationFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2", "r1"}, reservationIDs(everyone))

	everyoneOpen, err := repo.ListAllReservations(ctx, leave.OnlyReserved())
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r1"}, reservationIDs(everyoneOpen))

	everyoneOnDate, err := repo.ListAllReservations(ctx, leave.ReservationFilter{Date: &d})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2"}, reservationIDs(everyoneOnDate))

	cancelled := leave.StatusCancelled
	none, err := repo.ListAllReservations(ctx, leave.ReservationFilter{Status: &cancelled, Date: &r1.Date})
	require.NoError(t, err)
	assert.Empty(t, none)

	// Reads inside a transaction go through the same query.
	require.NoError(t, repo.WithTx(ctx, func(tx leave.Store) error {
		rs, err := tx.ListAllReservations(ctx, leave.OnlyReserved())
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"r3", "r1"}, reservationIDs(rs))
		return nil
	}))
}

func reservationIDs(rs []leave.Reservation) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}

func testUsage(t *testing.T, repo leave.Repository) {
	ctx := context.Background()

	u := leave.UsageRecord{
		ID:      "use-1",
		UserID:  "U001",
		Date:    leave.MustParseDate("2025-03-10"),
		Type:    leave.LeaveFull,
		Amount:  leave.Days(1.5),
		Weekday: time.Monday,
		Deductions: []leave.Deduction{
			{Year: 2024, Amount: leave.One},
			{Year: 2025, Amount: leave.Half},
		},
		ReservationID: "r1",
		UsedAt:        time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreateUsageRecord(ctx, u))
	require.NoError(t, repo.CreateUsageRecord(ctx, leave.UsageRecord{
		ID: "use-0", UserID: "U001", Date: leave.MustParseDate("2025-01-06"), Type: leave.LeaveHalf,
		Session: leave.SessionPM, Amount: leave.Half, Weekday: time.Monday,
		Deductions: []leave.Deduction{{Year: 2024, Amount: leave.Half}},
		UsedAt:     time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC),
	}))

	got, err := repo.GetUsageRecord(ctx, "use-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, cmp.Diff(u, *got))

	list, err := repo.ListUsageRecords(ctx, "U001")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "use-0", list[0].ID)

	require.NoError(t, repo.DeleteUsageRecord(ctx, "use-1"))
	got, err = repo.GetUsageRecord(ctx, "use-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testTxCommit(t *testing.T, repo leave.Repository) {
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx leave.Store) error {
		if err := tx.SaveGrant(ctx, leave.NewGrant("U001", 2025, leave.Days(15), leave.GrantExpiry(2025))); err != nil {
			return err
		}
		// Writes are visible inside the transaction.
		g, err := tx.GetGrant(ctx, "U001", 2025)
		if err != nil {
			return err
		}
		if g == nil {
			return errors.New("grant not visible inside transaction")
		}
		return tx.CreateReservation(ctx, leave.Reservation{
			ID: "r1", UserID: "U001", Date: leave.MustParseDate("2025-03-10"), Type: leave.LeaveFull,
			Amount: leave.One, Status: leave.StatusReserved, CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	g, err := repo.GetGrant(ctx, "U001", 2025)
	require.NoError(t, err)
	assert.NotNil(t, g)
	r, err := repo.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func testTxRollback(t *testing.T, repo leave.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.SaveGrant(ctx, leave.NewGrant("U001", 2025, leave.Days(15), leave.GrantExpiry(2025))))
	sentinel := errors.New("abort")

	err := repo.WithTx(ctx, func(tx leave.Store) error {
		g := leave.Grant{UserID: "U001", Year: 2025, Total: leave.Days(15), Used: leave.Days(3), Remain: leave.Days(12), ExpireAt: leave.GrantExpiry(2025)}
		if err := tx.SaveGrant(ctx, g); err != nil {
			return err
		}
		if err := tx.CreateUsageRecord(ctx, leave.UsageRecord{
			ID: "use-1", UserID: "U001", Date: leave.MustParseDate("2025-03-10"), Type: leave.LeaveFull,
			Amount: leave.Days(3), Deductions: []leave.Deduction{{Year: 2025, Amount: leave.Days(3)}},
			UsedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	g, err := repo.GetGrant(ctx, "U001", 2025)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.True(t, g.Used.IsZero(), "rolled back grant still shows used %s", g.Used)
	u, err := repo.GetUsageRecord(ctx, "use-1")
	require.NoError(t, err)
	assert.Nil(t, u)
}
