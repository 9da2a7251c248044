// Package occurrence expands a rule into the dates it fires on.
//
// Cancelled exceptions are not applied here. The projector checks them per
// date and counts them as applied exceptions.
package occurrence

import (
	"time"

	"github.com/roach88/loom/internal/model"
)

// Generate returns the ordered dates in [start, end) on which rule should
// have an instance: weekday matches of a recurring rule plus every date with
// an added exception. A pattern that matches nothing yields an empty slice.
func Generate(rule model.Rule, start, end time.Time, exceptions []model.Exception) []time.Time {
	added := make(map[time.Time]bool)
	for _, e := range exceptions {
		if e.RuleID == rule.ID && e.Type == model.ExceptionAdded {
			added[model.Day(e.Date)] = true
		}
	}

	dates := []time.Time{}
	for d := model.Day(start); d.Before(model.Day(end)); d = d.AddDate(0, 0, 1) {
		if (rule.Recurring && rule.FiresOn(d.Weekday())) || added[d] {
			dates = append(dates, d)
		}
	}
	return dates
}

// Index keys exceptions for one rule by date. When a date carries both an
// added and a cancelled exception the cancellation wins.
func Index(ruleID string, exceptions []model.Exception) map[time.Time]model.Exception {
	idx := make(map[time.Time]model.Exception)
	for _, e := range exceptions {
		if e.RuleID != ruleID {
			continue
		}
		d := model.Day(e.Date)
		if prev, ok := idx[d]; ok && prev.Type == model.ExceptionCancelled {
			continue
		}
		idx[d] = e
	}
	return idx
}
