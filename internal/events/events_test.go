package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/testutil"
	"github.com/roach88/loom/internal/weaver"
)

// The art class runs Monday 2026-10-19 from 10:00 to 12:00.
var classDay = testutil.Date("2026-10-19")

type fixture struct {
	store   *store.Store
	clock   *testutil.FixedClock
	weaver  *weaver.Weaver
	handler *Handler
}

func newFixture(t *testing.T, staff []string, enrolments ...string) *fixture {
	t.Helper()
	s := testutil.OpenStore(t)
	clock := testutil.NewFixedClock(time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC))
	alloc := allocator.New(testutil.NewSequenceIDs("row"), nil, allocator.Config{
		PayPeriodDays:   14,
		PayPeriodAnchor: testutil.Date("2024-01-01"),
	}, nil)

	testutil.Seed(t, s, func(ctx context.Context, tx *store.Tx) error {
		for _, id := range staff {
			if err := testutil.SeedStaff(ctx, tx, id, false); err != nil {
				return err
			}
		}
		return testutil.SeedRule(ctx, tx, testutil.WeeklyRule("art", []string{"mon"}, "10:00", "12:00", enrolments...))
	})

	f := &fixture{
		store:   s,
		clock:   clock,
		weaver:  weaver.New(s, alloc, testutil.NewSequenceIDs("inst"), clock, weaver.WithSampler(testutil.FixedSampler{})),
		handler: New(s, alloc, testutil.NewSequenceIDs("evt"), clock),
	}
	f.project(t)
	return f
}

func (f *fixture) project(t *testing.T) {
	t.Helper()
	_, err := f.weaver.Project(context.Background(), classDay, classDay.AddDate(0, 0, 1), false)
	require.NoError(t, err)
}

func (f *fixture) instance(t *testing.T) model.Instance {
	t.Helper()
	var inst model.Instance
	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		insts, err := tx.InstancesBetween(ctx, classDay, classDay.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		require.Len(t, insts, 1)
		inst = insts[0]
		return tx.LoadDetails(ctx, &inst)
	})
	return inst
}

func attendanceFor(t *testing.T, inst model.Instance, participantID string) model.Attendance {
	t.Helper()
	for _, a := range inst.Attendance {
		if a.ParticipantID == participantID {
			return a
		}
	}
	t.Fatalf("no attendance for %s", participantID)
	return model.Attendance{}
}

func TestCancelParticipant_ShortNoticeSetsBillingImpact(t *testing.T) {
	f := newFixture(t, nil, "p1", "p2")
	f.clock.Set(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	att := attendanceFor(t, f.instance(t), "p1")

	res, err := f.handler.CancelParticipant(context.Background(), att.ID, model.CancelNormal)
	require.NoError(t, err)

	got := res.Attendance
	assert.Equal(t, model.AttendanceCancelled, got.Status)
	assert.Equal(t, model.CancelShortNotice, got.CancellationType)
	assert.True(t, got.BillingImpact)
	require.NotNil(t, got.HoursNotice)
	assert.InDelta(t, 1.0, *got.HoursNotice, 1e-9)
	assert.True(t, got.IsOverridden)

	stored := attendanceFor(t, f.instance(t), "p1")
	assert.Equal(t, got.CancellationType, stored.CancellationType)
	assert.True(t, stored.BillingImpact)
}

func TestCancelParticipant_FiveDaysAheadIsNormal(t *testing.T) {
	f := newFixture(t, nil, "p1", "p2")
	f.clock.Set(time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC))
	att := attendanceFor(t, f.instance(t), "p1")

	res, err := f.handler.CancelParticipant(context.Background(), att.ID, model.CancelNormal)
	require.NoError(t, err)

	assert.Equal(t, model.CancelNormal, res.Attendance.CancellationType)
	assert.False(t, res.Attendance.BillingImpact)
	assert.InDelta(t, 120.0, *res.Attendance.HoursNotice, 1e-9)
}

func TestCancelParticipant_ReallocatesStaff(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob"}, "p1", "p2", "p3", "p4", "p5")
	require.Len(t, f.instance(t).Staff, 2)
	att := attendanceFor(t, f.instance(t), "p5")

	res, err := f.handler.CancelParticipant(context.Background(), att.ID, model.CancelNormal)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Allocation.Staff.RequiredStaff)
	assert.Equal(t, 1, res.Allocation.Staff.Changes.Deleted)
	staff := f.instance(t).Staff
	require.Len(t, staff, 1)
	assert.Equal(t, "alice", staff[0].StaffID)

	// The cancellation survives the next projection pass.
	f.project(t)
	assert.Equal(t, model.AttendanceCancelled, attendanceFor(t, f.instance(t), "p5").Status)
}

func TestCancelParticipant_Errors(t *testing.T) {
	f := newFixture(t, nil, "p1")
	att := attendanceFor(t, f.instance(t), "p1")
	ctx := context.Background()

	_, err := f.handler.CancelParticipant(ctx, att.ID, "whenever")
	assert.True(t, model.IsValidation(err))

	_, err = f.handler.CancelParticipant(ctx, "missing", model.CancelNormal)
	assert.True(t, model.IsNotFound(err))

	_, err = f.handler.CancelParticipant(ctx, att.ID, model.CancelNormal)
	require.NoError(t, err)
	_, err = f.handler.CancelParticipant(ctx, att.ID, model.CancelNormal)
	assert.True(t, model.IsConflict(err))
}

func TestReportStaffSickness_FindsReplacement(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob"}, "p1", "p2")
	inst := f.instance(t)
	require.Len(t, inst.Staff, 1)
	sick := inst.Staff[0]
	require.Equal(t, "alice", sick.StaffID)

	res, err := f.handler.ReportStaffSickness(context.Background(), sick.ID)
	require.NoError(t, err)

	assert.False(t, res.NeedsAttention)
	assert.Equal(t, model.ShiftSick, res.Shift.Status)
	assert.True(t, res.Shift.IsOverridden)
	require.NotNil(t, res.Substitute)
	assert.Equal(t, "bob", res.Substitute.StaffID)
	assert.Equal(t, model.RoleLead, res.Substitute.Role)
	assert.Equal(t, sick.ID, res.Substitute.SubstituteFor)

	// Reprojection keeps the substitution and adds nobody.
	f.project(t)
	staff := f.instance(t).Staff
	require.Len(t, staff, 2)
	active := 0
	for _, s := range staff {
		if s.Active() {
			active++
			assert.Equal(t, "bob", s.StaffID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestReportStaffSickness_NoReplacementIsNotAnError(t *testing.T) {
	f := newFixture(t, []string{"alice"}, "p1")
	sick := f.instance(t).Staff[0]

	res, err := f.handler.ReportStaffSickness(context.Background(), sick.ID)
	require.NoError(t, err)

	assert.True(t, res.NeedsAttention)
	assert.Nil(t, res.Substitute)
	stored := f.instance(t).Staff
	require.Len(t, stored, 1)
	assert.True(t, stored[0].NeedsAttention)
	assert.Equal(t, model.ShiftSick, stored[0].Status)

	_, err = f.handler.ReportStaffSickness(context.Background(), sick.ID)
	assert.True(t, model.IsConflict(err))
}

func (f *fixture) shortfall(t *testing.T) model.Shortfall {
	t.Helper()
	inst := f.instance(t)
	var short model.Shortfall
	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		var err error
		short, err = allocator.Assess(ctx, tx, inst)
		return err
	})
	return short
}

func TestReportStaffSickness_AttentionClearsOnceCovered(t *testing.T) {
	f := newFixture(t, []string{"alice"}, "p1")
	sick := f.instance(t).Staff[0]

	_, err := f.handler.ReportStaffSickness(context.Background(), sick.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Shortfall{Understaffed: true, NeedsAttention: true}, f.shortfall(t))

	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		return testutil.SeedStaff(ctx, tx, "bob", false)
	})
	res, err := f.handler.Reoptimize(context.Background(), sick.InstanceID)
	require.NoError(t, err)
	assert.False(t, res.Staff.Understaffed)

	assert.Equal(t, model.Shortfall{}, f.shortfall(t))
}

func TestReoptimize(t *testing.T) {
	f := newFixture(t, []string{"alice"}, "p1", "p2")
	inst := f.instance(t)

	res, err := f.handler.Reoptimize(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, res.InstanceID)
	assert.Equal(t, 1, res.Staff.RequiredStaff)
	assert.Equal(t, allocator.RowChanges{}, res.Staff.Changes)

	_, err = f.handler.Reoptimize(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
}
