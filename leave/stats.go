package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeekdayUsage aggregates consumed leave falling on one weekday.
type WeekdayUsage struct {
	Weekday   string          `json:"weekday"`
	TotalUsed decimal.Decimal `json:"total_used"`
	Count     int             `json:"count"`
}

var weekdayCodes = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// WeekdayCode is the three-letter upper-case weekday name.
func WeekdayCode(d time.Weekday) string {
	return weekdayCodes[d]
}

// UsageByWeekday returns one row per weekday, Sunday first, including
// weekdays with no usage.
func UsageByWeekday(records []UsageRecord) []WeekdayUsage {
	out := make([]WeekdayUsage, 7)
	for i := range out {
		out[i] = WeekdayUsage{Weekday: weekdayCodes[i], TotalUsed: decimal.Zero}
	}
	for _, r := range records {
		wd := r.Date.Weekday()
		out[wd].TotalUsed = out[wd].TotalUsed.Add(r.Amount)
		out[wd].Count++
	}
	return out
}
