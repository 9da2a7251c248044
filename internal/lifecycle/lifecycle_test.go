package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/testutil"
	"github.com/roach88/loom/internal/weaver"
)

// Monday 2026-10-19, before the art class starts.
var mondayMorning = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.Store
	clock *testutil.FixedClock
	m     *Manager
}

func newFixture(t *testing.T, enrolments ...string) *fixture {
	t.Helper()
	s := testutil.OpenStore(t)
	clock := testutil.NewFixedClock(mondayMorning)
	alloc := allocator.New(testutil.NewSequenceIDs("row"), nil, allocator.Config{
		PayPeriodDays:   14,
		PayPeriodAnchor: testutil.Date("2024-01-01"),
	}, nil)
	w := weaver.New(s, alloc, testutil.NewSequenceIDs("inst"), clock, weaver.WithSampler(testutil.FixedSampler{}))

	testutil.Seed(t, s, func(ctx context.Context, tx *store.Tx) error {
		return testutil.SeedRule(ctx, tx, testutil.WeeklyRule("art", []string{"mon"}, "10:00", "12:00", enrolments...))
	})
	return &fixture{store: s, clock: clock, m: New(s, w, testutil.NewSequenceIDs("hist"), clock)}
}

func (f *fixture) seedRate(t *testing.T, unit model.RateUnit, price string) {
	t.Helper()
	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		return tx.UpsertRate(ctx, model.Rate{
			Code:          "STD",
			Unit:          unit,
			UnitPrice:     decimal.RequireFromString(price),
			EffectiveFrom: testutil.Date("2026-01-01"),
		})
	})
}

func (f *fixture) instances(t *testing.T) []model.Instance {
	t.Helper()
	var out []model.Instance
	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		var err error
		out, err = tx.InstancesBetween(ctx, testutil.Date("2026-01-01"), testutil.Date("2027-12-31"))
		return err
	})
	return out
}

// setStatuses marks each participant's row on the first instance.
func (f *fixture) setStatuses(t *testing.T, statuses map[string]model.Attendance) {
	t.Helper()
	inst := f.instances(t)[0]
	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Attendance(ctx, inst.ID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			want, ok := statuses[row.ParticipantID]
			if !ok {
				continue
			}
			row.Status = want.Status
			row.BillingImpact = want.BillingImpact
			row.IsOverridden = true
			if err := tx.UpdateAttendance(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, "p1")

	res, err := f.m.Generate(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, testutil.Date("2026-10-19"), res.Window.Start)
	assert.Equal(t, testutil.Date("2026-11-16"), res.Window.End)
	assert.Equal(t, 4, res.Projection.Created)
	assert.True(t, res.Projection.FullRebuild)

	win, ok, err := f.m.Window(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Window.End, win.End)
	assert.Equal(t, 4, win.Weeks)
}

func TestGenerate_UsesConfiguredTimezone(t *testing.T) {
	f := newFixture(t, "p1")
	loc, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	f.m.loc = loc
	// Sunday 20:00 UTC is already Monday in Sydney.
	f.clock.Set(time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC))

	res, err := f.m.Generate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date("2026-10-19"), res.Window.Start)
}

func TestResize_RejectsOutOfBounds(t *testing.T) {
	f := newFixture(t, "p1")
	ctx := context.Background()

	_, err := f.m.Resize(ctx, 4)
	assert.True(t, model.IsValidation(err), "resize before generate")

	_, err = f.m.Generate(ctx, 4)
	require.NoError(t, err)
	for _, weeks := range []int{0, 17, -1} {
		_, err := f.m.Resize(ctx, weeks)
		assert.True(t, model.IsValidation(err), "weeks=%d", weeks)
	}
	_, err = f.m.Generate(ctx, 17)
	assert.True(t, model.IsValidation(err))
}

func TestResize_ProjectsOnlyTheDelta(t *testing.T) {
	f := newFixture(t, "p1")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 4)
	require.NoError(t, err)

	res, err := f.m.Resize(ctx, 8)
	require.NoError(t, err)

	assert.Equal(t, testutil.Date("2026-11-16"), res.Projection.Start)
	assert.Equal(t, testutil.Date("2026-12-14"), res.Projection.End)
	assert.Equal(t, 4, res.Projection.Created)
	assert.Equal(t, 0, res.Projection.Refreshed)
	assert.Equal(t, testutil.Date("2026-12-14"), res.Window.End)
	assert.Len(t, f.instances(t), 8)
}

func TestResize_ShrinkDropsUneditedFarEnd(t *testing.T) {
	f := newFixture(t, "p1")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 4)
	require.NoError(t, err)

	last := f.instances(t)[3]
	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		last.IsOverridden = true
		return tx.UpdateInstance(ctx, last)
	})

	res, err := f.m.Resize(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	insts := f.instances(t)
	require.Len(t, insts, 3)
	assert.Equal(t, last.ID, insts[2].ID)
}

func TestRoll_ArchivesAttendedInstance(t *testing.T) {
	f := newFixture(t, "p1", "p2", "p3")
	f.seedRate(t, model.RateHourly, "30.00")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 1)
	require.NoError(t, err)
	archived := f.instances(t)[0]
	f.setStatuses(t, map[string]model.Attendance{
		"p1": {Status: model.AttendanceAttended},
		"p2": {Status: model.AttendanceAttended},
		"p3": {Status: model.AttendanceAttended},
	})

	f.clock.Set(mondayMorning.AddDate(0, 0, 1))
	res, err := f.m.Roll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Archive.Archived)
	assert.Equal(t, 3, res.Archive.Payments)
	assert.Equal(t, testutil.Date("2026-10-20"), res.Window.Start)
	assert.Equal(t, testutil.Date("2026-10-27"), res.Window.End)
	assert.Equal(t, 1, res.Projection.Created)

	for _, inst := range f.instances(t) {
		assert.NotEqual(t, archived.ID, inst.ID)
	}

	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		entry, err := tx.HistoryForInstance(ctx, archived.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, entry.AttendanceCount)
		assert.Equal(t, 3, entry.AttendedCount)
		assert.Contains(t, string(entry.Snapshot), archived.ID)

		entries, err := tx.HistoryBetween(ctx, testutil.Date("2026-10-01"), testutil.Date("2026-11-01"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		return nil
	})

	pending, err := f.m.Payments(ctx, model.PaymentPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, p := range pending {
		assert.Equal(t, model.ReasonAttended, p.Reason)
		assert.True(t, p.Units.Equal(decimal.NewFromInt(2)), "units %s", p.Units)
		assert.True(t, p.Amount.Equal(decimal.NewFromInt(60)), "amount %s", p.Amount)
	}
}

func TestArchive_BillableCancellationsAndNoShows(t *testing.T) {
	f := newFixture(t, "p1", "p2", "p3", "p4")
	f.seedRate(t, model.RatePerSession, "45.50")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 1)
	require.NoError(t, err)
	f.setStatuses(t, map[string]model.Attendance{
		"p1": {Status: model.AttendanceAttended},
		"p2": {Status: model.AttendanceCancelled, BillingImpact: true},
		"p3": {Status: model.AttendanceCancelled},
		"p4": {Status: model.AttendanceNoShow},
	})

	stats, err := f.m.Archive(ctx, testutil.Date("2026-10-20"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 2, stats.Payments)

	all, err := f.m.Payments(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	reasons := map[string]model.PaymentReason{}
	for _, p := range all {
		reasons[p.ParticipantID] = p.Reason
		assert.True(t, p.Amount.Equal(decimal.RequireFromString("45.5")))
	}
	assert.Equal(t, map[string]model.PaymentReason{
		"p1": model.ReasonAttended,
		"p2": model.ReasonBillableCancellation,
	}, reasons)
}

func TestArchive_WithoutRateStillArchives(t *testing.T) {
	f := newFixture(t, "p1")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 1)
	require.NoError(t, err)
	f.setStatuses(t, map[string]model.Attendance{"p1": {Status: model.AttendanceAttended}})

	stats, err := f.m.Archive(ctx, testutil.Date("2026-10-20"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 0, stats.Payments)
	assert.Equal(t, 1, stats.Unpriced)
	assert.Empty(t, f.instances(t))
}

// constantIDs hands out the same ID every time, so the second row of a kind
// written in one transaction collides with the first.
type constantIDs string

func (c constantIDs) NewID() string { return string(c) }

func TestArchive_FailureLeavesInstanceLive(t *testing.T) {
	f := newFixture(t, "p1", "p2")
	f.seedRate(t, model.RatePerSession, "10.00")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 1)
	require.NoError(t, err)
	live := f.instances(t)[0]
	f.setStatuses(t, map[string]model.Attendance{
		"p1": {Status: model.AttendanceAttended},
		"p2": {Status: model.AttendanceAttended},
	})

	m := New(f.store, f.m.weaver, constantIDs("dup"), f.clock)
	stats, err := m.Archive(ctx, testutil.Date("2026-10-20"))
	require.Error(t, err)
	assert.Equal(t, 0, stats.Archived)

	testutil.Seed(t, f.store, func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.HistoryForInstance(ctx, live.ID)
		assert.True(t, model.IsNotFound(err), "history row written: %v", err)

		inst, err := tx.InstanceByID(ctx, live.ID)
		require.NoError(t, err)
		require.NoError(t, tx.LoadDetails(ctx, &inst))
		assert.Len(t, inst.Attendance, 2)
		return nil
	})
	all, err := f.m.Payments(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMarkBilled(t *testing.T) {
	f := newFixture(t, "p1", "p2")
	f.seedRate(t, model.RatePerSession, "10")
	ctx := context.Background()
	_, err := f.m.Generate(ctx, 1)
	require.NoError(t, err)
	f.setStatuses(t, map[string]model.Attendance{
		"p1": {Status: model.AttendanceAttended},
		"p2": {Status: model.AttendanceAttended},
	})
	_, err = f.m.Archive(ctx, testutil.Date("2026-10-20"))
	require.NoError(t, err)
	pending, err := f.m.Payments(ctx, model.PaymentPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	billed, err := f.m.MarkBilled(ctx, []string{pending[0].ID})
	require.NoError(t, err)
	require.Len(t, billed, 1)
	assert.Equal(t, model.PaymentBilled, billed[0].Status)
	require.NotNil(t, billed[0].BilledAt)

	// All or nothing: the second id is already billed.
	_, err = f.m.MarkBilled(ctx, []string{pending[1].ID, pending[0].ID})
	assert.True(t, model.IsValidation(err))
	still, err := f.m.Payments(ctx, model.PaymentPending)
	require.NoError(t, err)
	assert.Len(t, still, 1)

	_, err = f.m.MarkBilled(ctx, nil)
	assert.True(t, model.IsValidation(err))
	_, err = f.m.Payments(ctx, "void")
	assert.True(t, model.IsValidation(err))
}

func TestRoll_RequiresWindow(t *testing.T) {
	f := newFixture(t, "p1")
	_, err := f.m.Roll(context.Background())
	assert.True(t, model.IsValidation(err))
}
