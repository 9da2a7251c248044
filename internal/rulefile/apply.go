package rulefile

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
)

// Summary counts what Apply wrote.
type Summary struct {
	RatioTables  int `json:"ratio_tables"`
	Rules        int `json:"rules"`
	RulesChanged int `json:"rules_changed"`
	Exceptions   int `json:"exceptions"`
	Participants int `json:"participants"`
	Staff        int `json:"staff"`
	Vehicles     int `json:"vehicles"`
	Blackouts    int `json:"blackouts"`
	Rates        int `json:"rates"`
}

// Apply validates f and upserts its content. A rule whose definition
// changed gets UpdatedAt = now, which changes its fingerprint; an unchanged
// rule keeps its stored UpdatedAt so reimporting a file is a no-op for
// projection.
func Apply(ctx context.Context, tx *store.Tx, f *File, now time.Time) (Summary, error) {
	var sum Summary
	if err := f.Validate(); err != nil {
		return sum, err
	}

	for _, t := range f.RatioTables {
		if err := tx.UpsertRatioTable(ctx, t); err != nil {
			return sum, err
		}
		sum.RatioTables++
	}
	for _, p := range f.Participants {
		if err := tx.UpsertParticipant(ctx, p); err != nil {
			return sum, err
		}
		sum.Participants++
	}
	for _, s := range f.Staff {
		if err := tx.UpsertStaff(ctx, s.Staff); err != nil {
			return sum, err
		}
		windows := make([]model.StaffAvailability, 0, len(s.Availability))
		for _, a := range s.Availability {
			a.StaffID = s.ID
			windows = append(windows, a)
		}
		if err := tx.ReplaceAvailability(ctx, s.ID, windows); err != nil {
			return sum, err
		}
		for _, d := range s.Leave {
			if err := tx.InsertStaffLeave(ctx, model.StaffLeave{StaffID: s.ID, Date: time.Time(d), Reason: "leave"}); err != nil {
				return sum, err
			}
		}
		sum.Staff++
	}
	for _, v := range f.Vehicles {
		if err := tx.UpsertVehicle(ctx, v); err != nil {
			return sum, err
		}
		sum.Vehicles++
	}
	for _, b := range f.Blackouts {
		if err := tx.InsertBlackout(ctx, b); err != nil {
			return sum, err
		}
		sum.Blackouts++
	}
	for _, r := range f.Rates {
		if err := tx.UpsertRate(ctx, r.Model()); err != nil {
			return sum, err
		}
		sum.Rates++
	}

	for _, r := range f.Rules {
		if _, err := tx.RatioTable(ctx, r.RatioTableID); err != nil {
			if model.IsNotFound(err) {
				return sum, model.Validationf("rule %s: ratio table %s does not exist", r.ID, r.RatioTableID)
			}
			return sum, err
		}
		changed, err := stampRule(ctx, tx, &r, now)
		if err != nil {
			return sum, err
		}
		if err := tx.UpsertRule(ctx, r); err != nil {
			return sum, err
		}
		sum.Rules++
		if changed {
			sum.RulesChanged++
		}
	}
	for _, e := range f.Exceptions {
		if _, err := tx.Rule(ctx, e.RuleID); err != nil {
			if model.IsNotFound(err) {
				return sum, model.Validationf("exception %s: rule %s does not exist", e.ID, e.RuleID)
			}
			return sum, err
		}
		if err := tx.UpsertException(ctx, e.Model()); err != nil {
			return sum, err
		}
		sum.Exceptions++
	}
	return sum, nil
}

// stampRule sets r.UpdatedAt: the stored value when nothing changed, now
// otherwise. An explicit UpdatedAt in the file wins for new rules.
func stampRule(ctx context.Context, tx *store.Tx, r *model.Rule, now time.Time) (bool, error) {
	existing, err := tx.Rule(ctx, r.ID)
	if model.IsNotFound(err) {
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	same, err := sameDefinition(existing, *r)
	if err != nil {
		return false, err
	}
	if same {
		r.UpdatedAt = existing.UpdatedAt
		return false, nil
	}
	r.UpdatedAt = now
	return true, nil
}

func sameDefinition(a, b model.Rule) (bool, error) {
	x, err := json.Marshal(normalise(a))
	if err != nil {
		return false, err
	}
	y, err := json.Marshal(normalise(b))
	if err != nil {
		return false, err
	}
	return string(x) == string(y), nil
}

func normalise(r model.Rule) model.Rule {
	r.UpdatedAt = time.Time{}
	if len(r.Weekdays) == 0 {
		r.Weekdays = nil
	}
	if len(r.Enrolments) == 0 {
		r.Enrolments = nil
	} else {
		r.Enrolments = slices.Sorted(slices.Values(r.Enrolments))
	}
	return r
}
