// Package fingerprint hashes what a rule would produce on a given date.
//
// The hash covers only the fields that determine an instance's unoverridden
// shape: slots (and so times and transport), venue, ratio table, rate code,
// the rule's updated_at and the matching exception's identity and overrides.
// It never covers operator-editable state, so an override cannot change it.
package fingerprint

import (
	"time"

	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/model"
)

// Payload builds the canonical object that Compute hashes. Exposed so tests
// and diagnostics can inspect exactly what participates in the hash.
func Payload(rule model.Rule, date time.Time, exc *model.Exception) ir.Object {
	slots := make(ir.Array, len(rule.Slots))
	for i, s := range rule.Slots {
		slots[i] = ir.Object{
			"kind":  ir.String(s.Kind),
			"start": ir.String(s.Start.String()),
			"end":   ir.String(s.End.String()),
		}
	}
	return ir.Object{
		"rule_id":        ir.String(rule.ID),
		"date":           ir.String(model.FormatDate(date)),
		"slots":          slots,
		"venue_id":       ir.String(rule.VenueID),
		"ratio_table_id": ir.String(rule.RatioTableID),
		"rate_code":      ir.StringOrNull(rule.RateCode),
		"updated_at":     ir.String(rule.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		"exception":      exceptionValue(exc),
	}
}

func exceptionValue(exc *model.Exception) ir.Value {
	if exc == nil {
		return ir.Null{}
	}
	return ir.Object{
		"id":             ir.String(exc.ID),
		"type":           ir.String(exc.Type),
		"start_override": timeOrNull(exc.StartOverride),
		"end_override":   timeOrNull(exc.EndOverride),
		"venue_override": ir.StringOrNull(exc.VenueOverride),
	}
}

func timeOrNull(t *model.TimeOfDay) ir.Value {
	if t == nil {
		return ir.Null{}
	}
	return ir.String(t.String())
}

// Compute returns the projection fingerprint for rule on date.
// A nil exception hashes as null.
func Compute(rule model.Rule, date time.Time, exc *model.Exception) string {
	h, err := ir.Hash(ir.DomainProjection, Payload(rule, date, exc))
	if err != nil {
		// Payload only builds ir values, which always marshal.
		panic(err)
	}
	return h
}
