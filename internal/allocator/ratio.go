package allocator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/loom/internal/model"
)

// VirtualCount sums the supervision multipliers of everyone who takes up a
// place on the instance. Unknown participants and multipliers below one
// count as one.
func VirtualCount(attendance []model.Attendance, participants map[string]model.Participant) decimal.Decimal {
	one := decimal.NewFromInt(1)
	total := decimal.Zero
	for _, a := range attendance {
		if !a.Status.Counts() {
			continue
		}
		m := one
		if p, ok := participants[a.ParticipantID]; ok && p.SupervisionMultiplier.GreaterThan(one) {
			m = p.SupervisionMultiplier
		}
		total = total.Add(m)
	}
	return total
}

// RequiredStaff walks the brackets in ascending order and returns the staff
// count of the first bracket whose Max covers count. Beyond the top bracket
// the top bracket's ratio is extrapolated:
//
//	ceil(count / (top.Max / top.RequiredStaff))
//
// computed as ceil(count * top.RequiredStaff / top.Max) to stay exact.
func RequiredStaff(table model.RatioTable, count decimal.Decimal) int {
	if !count.IsPositive() || len(table.Brackets) == 0 {
		return 0
	}
	for _, b := range table.Brackets {
		if count.LessThanOrEqual(decimal.NewFromInt(int64(b.Max))) {
			return b.RequiredStaff
		}
	}

	top := table.Brackets[len(table.Brackets)-1]
	if top.Max <= 0 {
		return top.RequiredStaff
	}
	need := count.Mul(decimal.NewFromInt(int64(top.RequiredStaff))).
		Div(decimal.NewFromInt(int64(top.Max))).
		Ceil()
	return int(need.IntPart())
}

// PayPeriod returns the [start, end) pay period containing date. Periods are
// days long and aligned to anchor.
func PayPeriod(anchor time.Time, days int, date time.Time) (time.Time, time.Time) {
	if days <= 0 {
		days = 14
	}
	anchor, date = model.Day(anchor), model.Day(date)
	offset := int(date.Sub(anchor).Hours() / 24)
	periods := offset / days
	if offset < 0 && offset%days != 0 {
		periods--
	}
	start := anchor.AddDate(0, 0, periods*days)
	return start, start.AddDate(0, 0, days)
}
