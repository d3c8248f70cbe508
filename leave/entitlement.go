package leave

import "github.com/shopspring/decimal"

// =============================================================================
// ENTITLEMENT - Annual leave by years of service
// =============================================================================

const (
	BaseAnnualLeave = 15
	MaxAnnualLeave  = 25
)

// AnnualLeave returns the days granted for a year of service count:
// none before the first full year, then 15 plus one per two further years,
// capped at 25.
func AnnualLeave(yearsOfService int) int {
	if yearsOfService < 1 {
		return 0
	}
	return min(BaseAnnualLeave+(yearsOfService-1)/2, MaxAnnualLeave)
}

// YearsOfService counts completed years between join and asOf.
func YearsOfService(join, asOf Date) int {
	if asOf.Before(join) {
		return 0
	}
	years := asOf.Year() - join.Year()
	if asOf.Month() < join.Month() || (asOf.Month() == join.Month() && asOf.Day() < join.Day()) {
		years--
	}
	return years
}

// GrantExpiry is the last day a grant for year can be used: Dec 31 of the
// following year.
func GrantExpiry(year int) Date {
	return EndOfYear(year + 1)
}

// AnnualGrant builds the grant for year from the user's service at Jan 1.
// Total is zero for users with less than a year of service.
func AnnualGrant(u User, year int) Grant {
	years := YearsOfService(u.JoinDate, StartOfYear(year))
	total := decimal.NewFromInt(int64(AnnualLeave(years)))
	return NewGrant(u.ID, year, total, GrantExpiry(year))
}
