package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
)

// RuleUpdatedAt is the updated_at stamp fixture rules carry.
var RuleUpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// OpenStore opens a fresh store in a temporary directory.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Seed runs fn in one transaction and fails the test on error.
func Seed(t testing.TB, s *store.Store, fn func(ctx context.Context, tx *store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.InTx(ctx, func(tx *store.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

// Date parses YYYY-MM-DD and panics on malformed input.
func Date(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// At parses HH:MM and panics on malformed input.
func At(s string) model.TimeOfDay {
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// StandardRatio is the {1-4 -> 1, 5-8 -> 2, 9-12 -> 3} table.
func StandardRatio(id string) model.RatioTable {
	return model.RatioTable{
		ID:   id,
		Name: "standard",
		Brackets: []model.Bracket{
			{Min: 1, Max: 4, RequiredStaff: 1},
			{Min: 5, Max: 8, RequiredStaff: 2},
			{Min: 9, Max: 12, RequiredStaff: 3},
		},
	}
}

// WeeklyRule is an active recurring activity between start and end on the
// given weekdays, using the "ratio-std" table.
func WeeklyRule(id string, weekdays []string, start, end string, enrolments ...string) model.Rule {
	return model.Rule{
		ID:           id,
		Name:         id,
		Weekdays:     weekdays,
		Recurring:    true,
		Slots:        []model.Slot{{Kind: model.SlotActivity, Start: At(start), End: At(end)}},
		VenueID:      "venue-1",
		RatioTableID: "ratio-std",
		RateCode:     "STD",
		Enrolments:   enrolments,
		Active:       true,
		UpdatedAt:    RuleUpdatedAt,
	}
}

// WithPickup prepends a thirty minute pickup leg to rule.
func WithPickup(rule model.Rule) model.Rule {
	start := rule.Start()
	rule.Slots = append([]model.Slot{{Kind: model.SlotPickup, Start: start - 30, End: start}}, rule.Slots...)
	return rule
}

// Participant is an active participant with the given multiplier.
func Participant(id, multiplier string) model.Participant {
	return model.Participant{
		ID:                    id,
		Name:                  id,
		SupervisionMultiplier: decimal.RequireFromString(multiplier),
		Address:               id + " street",
		Active:                true,
	}
}

// SeedStaff stores an active staff member available all day, every day.
func SeedStaff(ctx context.Context, tx *store.Tx, id string, canDrive bool) error {
	if err := tx.UpsertStaff(ctx, model.Staff{ID: id, Name: id, CanDrive: canDrive, Active: true}); err != nil {
		return err
	}
	var windows []model.StaffAvailability
	for _, wd := range []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"} {
		windows = append(windows, model.StaffAvailability{StaffID: id, Weekday: wd, Start: 0, End: 24 * 60})
	}
	return tx.ReplaceAvailability(ctx, id, windows)
}

// SeedRule stores the standard ratio table and rule, plus a 1.0 participant
// for every enrolment.
func SeedRule(ctx context.Context, tx *store.Tx, rule model.Rule) error {
	if err := tx.UpsertRatioTable(ctx, StandardRatio(rule.RatioTableID)); err != nil {
		return err
	}
	for _, pid := range rule.Enrolments {
		if _, err := tx.Participant(ctx, pid); model.IsNotFound(err) {
			if err := tx.UpsertParticipant(ctx, Participant(pid, "1")); err != nil {
				return err
			}
		}
	}
	return tx.UpsertRule(ctx, rule)
}
