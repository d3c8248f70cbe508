package leave

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS AGGREGATOR - Read-only balance summary
// =============================================================================

// Expiry is the grant that will lapse next while still holding leave.
type Expiry struct {
	Year     int             `json:"year"`
	Amount   decimal.Decimal `json:"amount"`
	ExpireAt Date            `json:"expire_at"`
}

// StatusView is a user's aggregate balance.
type StatusView struct {
	UserID   UserID          `json:"user_id"`
	Total    decimal.Decimal `json:"total"`
	Used     decimal.Decimal `json:"used"`
	Reserved decimal.Decimal `json:"reserved"`
	Remain   decimal.Decimal `json:"remain"`
	// Available is Remain minus Reserved, floored at zero.
	Available     decimal.Decimal `json:"available"`
	Balances      []Grant         `json:"balances"`
	NearestExpiry *Expiry         `json:"nearest_expiry,omitempty"`
}

// GetStatus aggregates grants and RESERVED reservations belonging to userID.
// Entries for other users are ignored.
func GetStatus(userID UserID, grants []Grant, reservations []Reservation) StatusView {
	view := StatusView{
		UserID:   userID,
		Total:    decimal.Zero,
		Used:     decimal.Zero,
		Reserved: decimal.Zero,
		Remain:   decimal.Zero,
		Balances: []Grant{},
	}

	for _, g := range grants {
		if g.UserID != userID {
			continue
		}
		view.Total = view.Total.Add(g.Total)
		view.Used = view.Used.Add(g.Used)
		view.Remain = view.Remain.Add(g.Remain)
		view.Balances = append(view.Balances, g)

		if g.Remain.IsPositive() && (view.NearestExpiry == nil || g.ExpireAt.Before(view.NearestExpiry.ExpireAt)) {
			view.NearestExpiry = &Expiry{Year: g.Year, Amount: g.Remain, ExpireAt: g.ExpireAt}
		}
	}
	sort.Slice(view.Balances, func(i, j int) bool {
		return view.Balances[i].Year < view.Balances[j].Year
	})

	for _, r := range reservations {
		if r.UserID == userID && r.Status == StatusReserved {
			view.Reserved = view.Reserved.Add(r.Amount)
		}
	}

	view.Available = decimal.Max(view.Remain.Sub(view.Reserved), decimal.Zero)
	return view
}
