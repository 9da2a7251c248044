package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/loom/internal/model"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustTx runs fn in a transaction and fails the test on error.
func mustTx(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.InTx(ctx, func(tx *Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}
}

func date(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// createTestInstance creates an instance with minimal required fields.
func createTestInstance(id, ruleID, day string, start, end model.TimeOfDay) model.Instance {
	return model.Instance{
		ID:             id,
		SourceRuleID:   ruleID,
		Date:           date(day),
		Start:          start,
		End:            end,
		VenueID:        "venue-1",
		RatioTableID:   "ratio-1",
		Slots:          []model.Slot{{Kind: model.SlotActivity, Start: start, End: end}},
		ProjectionHash: "hash-" + id,
		ProjectedAt:    testNow,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func createTestShift(id, instanceID, staffID string) model.StaffAssignment {
	return model.StaffAssignment{
		ID:           id,
		InstanceID:   instanceID,
		StaffID:      staffID,
		SourceRuleID: "rule-1",
		Role:         model.RoleLead,
		Status:       model.ShiftAssigned,
	}
}

// seedStaff creates an active staff member available all day on every weekday.
func seedStaff(ctx context.Context, tx *Tx, id string, canDrive bool) error {
	if err := tx.UpsertStaff(ctx, model.Staff{ID: id, Name: id, CanDrive: canDrive, Active: true}); err != nil {
		return err
	}
	var windows []model.StaffAvailability
	for _, wd := range []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"} {
		windows = append(windows, model.StaffAvailability{StaffID: id, Weekday: wd, Start: 0, End: 24 * 60})
	}
	return tx.ReplaceAvailability(ctx, id, windows)
}
