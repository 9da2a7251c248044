package rulefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/testutil"
)

var importedAt = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestLoad_YAML(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "centre.yaml"))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	require.Len(t, f.Rules, 1)
	rule := f.Rules[0]
	assert.Equal(t, "art", rule.ID)
	assert.Equal(t, testutil.At("09:30"), rule.Start())
	assert.True(t, rule.RequiresTransport())
	assert.Equal(t, []string{"p1", "p2"}, rule.Enrolments)

	require.Len(t, f.Exceptions, 1)
	assert.Equal(t, testutil.Date("2026-10-21"), f.Exceptions[0].Model().Date)
	assert.True(t, f.Participants[1].SupervisionMultiplier.Equal(decimal.RequireFromString("1.5")))
	require.Len(t, f.Staff, 1)
	assert.Equal(t, "alice", f.Staff[0].ID)
	assert.True(t, f.Staff[0].CanDrive)
	assert.Len(t, f.Staff[0].Availability, 2)
	assert.True(t, f.Rates[0].Model().UnitPrice.Equal(decimal.RequireFromString("32.5")))
}

func TestLoad_CUEMatchesYAML(t *testing.T) {
	fromYAML, err := Load(filepath.Join("testdata", "centre.yaml"))
	require.NoError(t, err)
	fromCUE, err := Load(filepath.Join("testdata", "centre.cue"))
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Rules, fromCUE.Rules)
	assert.Equal(t, fromYAML.RatioTables, fromCUE.RatioTables)
	assert.Equal(t, fromYAML.Exceptions, fromCUE.Exceptions)
	assert.Equal(t, fromYAML.Staff, fromCUE.Staff)
	assert.Equal(t, fromYAML.Vehicles, fromCUE.Vehicles)
	require.Len(t, fromCUE.Participants, 2)
	assert.True(t, fromCUE.Participants[1].SupervisionMultiplier.Equal(decimal.RequireFromString("1.5")))
}

func TestLoad_CUEDirectory(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "centre.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "centre.cue"), data, 0o644))

	f, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, f.Rules, 1)
}

func TestLoad_Rejects(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "bad_slot.yaml"))
	require.NoError(t, err)
	err = f.Validate()
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, err.Error(), "rules[0]")

	_, err = ParseYAML([]byte("rules:\n  - id: x\n    colour: red\n"))
	assert.True(t, model.IsValidation(err), "unknown field")

	_, err = ParseCUE([]byte(`rules: [{id: string}]`), "open.cue")
	assert.True(t, model.IsValidation(err), "non-concrete value")

	_, err = Load(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	s := testutil.OpenStore(t)
	f, err := Load(filepath.Join("testdata", "centre.yaml"))
	require.NoError(t, err)
	ctx := context.Background()

	var sum Summary
	testutil.Seed(t, s, func(ctx context.Context, tx *store.Tx) error {
		sum, err = Apply(ctx, tx, f, importedAt)
		return err
	})
	assert.Equal(t, Summary{
		RatioTables: 1, Rules: 1, RulesChanged: 1, Exceptions: 1,
		Participants: 2, Staff: 1, Vehicles: 1, Blackouts: 1, Rates: 1,
	}, sum)

	testutil.Seed(t, s, func(ctx context.Context, tx *store.Tx) error {
		rule, err := tx.Rule(ctx, "art")
		require.NoError(t, err)
		assert.Equal(t, importedAt, rule.UpdatedAt)

		rate, err := tx.RateFor(ctx, "STD", testutil.Date("2026-10-19"))
		require.NoError(t, err)
		assert.Equal(t, model.RateHourly, rate.Unit)

		exc, err := tx.ExceptionsBetween(ctx, testutil.Date("2026-10-19"), testutil.Date("2026-10-26"))
		require.NoError(t, err)
		assert.Len(t, exc, 1)
		return nil
	})

	// Reimporting the same file keeps updated_at.
	later := importedAt.Add(24 * time.Hour)
	testutil.Seed(t, s, func(ctx context.Context, tx *store.Tx) error {
		sum, err = Apply(ctx, tx, f, later)
		return err
	})
	assert.Equal(t, 0, sum.RulesChanged)

	// A changed definition bumps it.
	f.Rules[0].VenueID = "hall"
	testutil.Seed(t, s, func(ctx context.Context, tx *store.Tx) error {
		sum, err = Apply(ctx, tx, f, later)
		return err
	})
	assert.Equal(t, 1, sum.RulesChanged)
	require.NoError(t, s.InTx(ctx, func(tx *store.Tx) error {
		rule, err := tx.Rule(ctx, "art")
		require.NoError(t, err)
		assert.Equal(t, later, rule.UpdatedAt)
		return nil
	}))
}

func TestApply_UnknownReferences(t *testing.T) {
	s := testutil.OpenStore(t)
	f := &File{Rules: []model.Rule{testutil.WeeklyRule("art", []string{"mon"}, "10:00", "12:00")}}

	err := s.InTx(context.Background(), func(tx *store.Tx) error {
		_, err := Apply(context.Background(), tx, f, importedAt)
		return err
	})
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, err.Error(), "ratio table")
}
