/*
allocation.go - FIFO deduction of leave across yearly grants

PURPOSE:
  A user holds one grant per year. Approving a leave deducts it from the
  grant that expires first, spilling into the next one when the first
  runs out:

    grants: 2024 remain 1.0 (exp 2025-12-31), 2025 remain 12.5 (exp 2026-12-31)
    allocate 1.5 -> [{2024, 1.0}, {2025, 0.5}]

  Reverse undoes exactly the deductions recorded on a usage record.

GUARANTEES:
  - The input slice is never written to.
  - On error nothing is returned to persist, so callers cannot apply
    a partial allocation or a partial reversal.
  - Reverse never clamps: an impossible restore is an InvariantError.

SEE ALSO:
  - service.go: Persists Allocation.Grants inside a transaction
  - types.go: Grant invariant
*/
package leave

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Allocation is the result of a successful Allocate.
type Allocation struct {
	Requested  decimal.Decimal
	Deductions []Deduction
	// Grants is a full copy of the input grants, in input order, with the
	// deductions applied.
	Grants []Grant
}

// Touched returns only the grants that changed.
func (a *Allocation) Touched() []Grant {
	years := make(map[int]bool, len(a.Deductions))
	for _, d := range a.Deductions {
		years[d.Year] = true
	}
	var out []Grant
	for _, g := range a.Grants {
		if years[g.Year] {
			out = append(out, g)
		}
	}
	return out
}

// AllocationEngine deducts and restores leave across grants. Stateless.
type AllocationEngine struct{}

// Available sums remain over grants.
func (e *AllocationEngine) Available(grants []Grant) decimal.Decimal {
	sum := decimal.Zero
	for _, g := range grants {
		sum = sum.Add(g.Remain)
	}
	return sum
}

// Allocate deducts amount from grants with remain > 0, earliest ExpireAt
// first (Year breaks ties).
func (e *AllocationEngine) Allocate(grants []Grant, amount decimal.Decimal) (*Allocation, error) {
	var userID UserID
	if len(grants) > 0 {
		userID = grants[0].UserID
	}
	if !amount.IsPositive() || !IsHalfStep(amount) {
		return nil, &InvariantError{UserID: userID, Reason: fmt.Sprintf("allocation amount %s must be a positive multiple of 0.5", amount)}
	}

	out := make([]Grant, len(grants))
	copy(out, grants)

	order := make([]int, 0, len(out))
	for i, g := range out {
		if g.Remain.IsPositive() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ga, gb := out[order[a]], out[order[b]]
		if !ga.ExpireAt.Equal(gb.ExpireAt) {
			return ga.ExpireAt.Before(gb.ExpireAt)
		}
		return ga.Year < gb.Year
	})

	left := amount
	var deductions []Deduction
	for _, i := range order {
		if !left.IsPositive() {
			break
		}
		g := &out[i]
		take := decimal.Min(g.Remain, left)
		g.Used = g.Used.Add(take)
		g.Remain = g.Remain.Sub(take)
		left = left.Sub(take)
		deductions = append(deductions, Deduction{Year: g.Year, Amount: take})
	}

	if left.IsPositive() {
		return nil, &AllocationError{
			UserID:    userID,
			Requested: amount,
			Available: amount.Sub(left),
			Shortfall: left,
		}
	}

	return &Allocation{Requested: amount, Deductions: deductions, Grants: out}, nil
}

// Reverse restores every deduction of usage onto grants and returns the
// resulting copy. Any deduction that cannot be restored exactly fails the
// whole reversal.
func (e *AllocationEngine) Reverse(grants []Grant, usage UsageRecord) ([]Grant, error) {
	out := make([]Grant, len(grants))
	copy(out, grants)

	byYear := make(map[int]int, len(out))
	for i, g := range out {
		byYear[g.Year] = i
	}

	for _, d := range usage.Deductions {
		i, ok := byYear[d.Year]
		if !ok {
			return nil, &InvariantError{UserID: usage.UserID, Year: d.Year, Reason: "no grant for deducted year"}
		}
		g := &out[i]
		if err := g.Check(); err != nil {
			return nil, err
		}
		used := g.Used.Sub(d.Amount)
		remain := g.Remain.Add(d.Amount)
		if used.IsNegative() {
			return nil, &InvariantError{UserID: usage.UserID, Year: d.Year,
				Reason: fmt.Sprintf("restoring %s would make used %s", d.Amount, used)}
		}
		if remain.GreaterThan(g.Total) {
			return nil, &InvariantError{UserID: usage.UserID, Year: d.Year,
				Reason: fmt.Sprintf("restoring %s would make remain %s exceed total %s", d.Amount, remain, g.Total)}
		}
		g.Used = used
		g.Remain = remain
	}
	return out, nil
}
