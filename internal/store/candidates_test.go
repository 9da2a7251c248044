package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/model"
)

func candidateIDs(cs []StaffCandidate) []string {
	var ids []string
	for _, c := range cs {
		ids = append(ids, c.Staff.ID)
	}
	return ids
}

func TestCandidateStaff_ExcludesOverlapLeaveAndUnavailable(t *testing.T) {
	s := createTestStore(t)
	periodStart, periodEnd := date("2026-10-12"), date("2026-10-26")

	mustTx(t, s, func(ctx context.Context, tx *Tx) error {
		for _, id := range []string{"alice", "bob", "carol", "dave"} {
			require.NoError(t, seedStaff(ctx, tx, id, false))
		}
		// dave only works mornings.
		require.NoError(t, tx.ReplaceAvailability(ctx, "dave", []model.StaffAvailability{
			{StaffID: "dave", Weekday: "mon", Start: 480, End: 720},
		}))
		require.NoError(t, tx.InsertStaffLeave(ctx, model.StaffLeave{StaffID: "carol", Date: date("2026-10-19")}))

		busy := createTestInstance("busy", "rule-2", "2026-10-19", 780, 900)
		require.NoError(t, tx.InsertInstance(ctx, busy))
		require.NoError(t, tx.InsertStaffAssignment(ctx, createTestShift("shift-b", "busy", "bob")))

		target := createTestInstance("target", "rule-1", "2026-10-19", 840, 960)
		require.NoError(t, tx.InsertInstance(ctx, target))

		got, err := tx.CandidateStaff(ctx, Span{
			Date: target.Date, Start: target.Start, End: target.End, ExcludeInstanceID: target.ID,
		}, periodStart, periodEnd)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, candidateIDs(got))
		return nil
	})
}

func TestCandidateStaff_AdjacentShiftIsNotAConflict(t *testing.T) {
	s := createTestStore(t)

	mustTx(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, seedStaff(ctx, tx, "alice", false))
		require.NoError(t, tx.InsertInstance(ctx, createTestInstance("morning", "rule-2", "2026-10-19", 540, 600)))
		require.NoError(t, tx.InsertStaffAssignment(ctx, createTestShift("shift-m", "morning", "alice")))

		got, err := tx.CandidateStaff(ctx, Span{Date: date("2026-10-19"), Start: 600, End: 660},
			date("2026-10-12"), date("2026-10-26"))
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, candidateIDs(got))
		return nil
	})
}

func TestCandidateStaff_RankedByAllocatedHours(t *testing.T) {
	s := createTestStore(t)

	mustTx(t, s, func(ctx context.Context, tx *Tx) error {
		for _, id := range []string{"alice", "bob", "carol"} {
			require.NoError(t, seedStaff(ctx, tx, id, false))
		}
		// alice: 3h live this period. bob: 1h archived this period.
		// carol: 5h outside the period.
		require.NoError(t, tx.InsertInstance(ctx, createTestInstance("live", "rule-2", "2026-10-20", 540, 720)))
		require.NoError(t, tx.InsertStaffAssignment(ctx, createTestShift("s-a", "live", "alice")))

		archived := createTestInstance("gone", "rule-2", "2026-10-13", 540, 600)
		require.NoError(t, tx.InsertHistory(ctx, model.HistoryEntry{
			ID: "h-1", InstanceID: "gone", SourceRuleID: "rule-2", Date: archived.Date,
			Start: archived.Start, End: archived.End, VenueID: "venue-1", Snapshot: []byte(`{}`),
			ArchivedAt: testNow,
		}))
		require.NoError(t, tx.InsertHistoryStaff(ctx, "h-1", archived, createTestShift("s-b", "gone", "bob")))

		require.NoError(t, tx.InsertInstance(ctx, createTestInstance("old", "rule-2", "2026-09-01", 540, 840)))
		require.NoError(t, tx.InsertStaffAssignment(ctx, createTestShift("s-c", "old", "carol")))

		got, err := tx.CandidateStaff(ctx, Span{Date: date("2026-10-19"), Start: 600, End: 660},
			date("2026-10-12"), date("2026-10-26"))
		require.NoError(t, err)
		assert.Equal(t, []string{"carol", "bob", "alice"}, candidateIDs(got))
		assert.InDelta(t, 0.0, got[0].AllocatedHours, 1e-9)
		assert.InDelta(t, 1.0, got[1].AllocatedHours, 1e-9)
		assert.InDelta(t, 3.0, got[2].AllocatedHours, 1e-9)
		return nil
	})
}

func TestCandidateStaff_SickShiftFreesStaff(t *testing.T) {
	s := createTestStore(t)

	mustTx(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, seedStaff(ctx, tx, "alice", false))
		require.NoError(t, tx.InsertInstance(ctx, createTestInstance("other", "rule-2", "2026-10-19", 600, 720)))
		shift := createTestShift("s-1", "other", "alice")
		shift.Status = model.ShiftSick
		require.NoError(t, tx.InsertStaffAssignment(ctx, shift))

		got, err := tx.CandidateStaff(ctx, Span{Date: date("2026-10-19"), Start: 600, End: 720},
			date("2026-10-12"), date("2026-10-26"))
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, candidateIDs(got))
		return nil
	})
}

func TestCandidateVehicles(t *testing.T) {
	s := createTestStore(t)

	mustTx(t, s, func(ctx context.Context, tx *Tx) error {
		vehicles := []model.Vehicle{
			{ID: "bus", Seats: 12, Active: true},
			{ID: "car", Seats: 4, Active: true},
			{ID: "van-a", Seats: 8, Active: true},
			{ID: "van-b", Seats: 8, Active: true},
			{ID: "retired", Seats: 6, Active: false},
		}
		for _, v := range vehicles {
			require.NoError(t, tx.UpsertVehicle(ctx, v))
		}
		day := date("2026-10-19")
		require.NoError(t, tx.InsertBlackout(ctx, model.VehicleBlackout{
			VehicleID: "van-a",
			Start:     model.TimeOfDay(540).At(day, nil),
			End:       model.TimeOfDay(660).At(day, nil),
		}))

		span := Span{Date: day, Start: 600, End: 720, ExcludeInstanceID: "target"}
		got, err := tx.CandidateVehicles(ctx, span, 5)
		require.NoError(t, err)
		var ids []string
		for _, v := range got {
			ids = append(ids, v.ID)
		}
		assert.Equal(t, []string{"van-b", "bus"}, ids)

		require.NoError(t, tx.InsertInstance(ctx, createTestInstance("other", "rule-2", "2026-10-19", 700, 800)))
		require.NoError(t, tx.PutVehicleAssignment(ctx, model.VehicleAssignment{
			ID: "va-1", InstanceID: "other", VehicleID: "van-b",
		}))
		got, err = tx.CandidateVehicles(ctx, span, 5)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "bus", got[0].ID)
		return nil
	})
}

func TestCandidateVehicles_BlackoutInSpanLocation(t *testing.T) {
	s := createTestStore(t)
	aedt := time.FixedZone("AEDT", 11*60*60)

	mustTx(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.UpsertVehicle(ctx, model.Vehicle{ID: "van", Seats: 8, Active: true}))
		day := date("2026-10-19")
		// 09:00-11:00 UTC is 20:00-22:00 in AEDT.
		require.NoError(t, tx.InsertBlackout(ctx, model.VehicleBlackout{
			VehicleID: "van",
			Start:     time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC),
		}))

		utc := Span{Date: day, Start: 600, End: 720}
		got, err := tx.CandidateVehicles(ctx, utc, 1)
		require.NoError(t, err)
		assert.Empty(t, got)

		local := Span{Date: day, Start: 600, End: 720, Location: aedt}
		got, err = tx.CandidateVehicles(ctx, local, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "van", got[0].ID)

		evening := Span{Date: day, Start: 1230, End: 1290, Location: aedt}
		got, err = tx.CandidateVehicles(ctx, evening, 1)
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	})
}
