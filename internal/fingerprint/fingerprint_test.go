package fingerprint

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/model"
)

var tuesday = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

func swimRule() model.Rule {
	return model.Rule{
		ID:        "rule-swim",
		Weekdays:  []string{"tue"},
		Recurring: true,
		Slots: []model.Slot{
			{Kind: model.SlotPickup, Start: model.NewTimeOfDay(8, 30), End: model.NewTimeOfDay(9, 0)},
			{Kind: model.SlotActivity, Start: model.NewTimeOfDay(9, 0), End: model.NewTimeOfDay(11, 0)},
		},
		VenueID:      "venue-pool",
		RatioTableID: "ratio-std",
		Active:       true,
		UpdatedAt:    time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCompute_Deterministic(t *testing.T) {
	r := swimRule()
	assert.Equal(t, Compute(r, tuesday, nil), Compute(r, tuesday, nil))
	assert.Len(t, Compute(r, tuesday, nil), 64)
}

func TestCompute_ChangesWithRelevantInput(t *testing.T) {
	base := Compute(swimRule(), tuesday, nil)

	tests := []struct {
		name   string
		mutate func(*model.Rule)
	}{
		{"venue", func(r *model.Rule) { r.VenueID = "venue-gym" }},
		{"ratio", func(r *model.Rule) { r.RatioTableID = "ratio-high" }},
		{"slot time", func(r *model.Rule) { r.Slots[1].End = model.NewTimeOfDay(11, 30) }},
		{"slot kind", func(r *model.Rule) { r.Slots[0].Kind = model.SlotActivity }},
		{"updated_at", func(r *model.Rule) { r.UpdatedAt = r.UpdatedAt.Add(time.Second) }},
		{"rate code", func(r *model.Rule) { r.RateCode = "DAY-01" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := swimRule()
			tt.mutate(&r)
			assert.NotEqual(t, base, Compute(r, tuesday, nil))
		})
	}

	assert.NotEqual(t, base, Compute(swimRule(), tuesday.AddDate(0, 0, 7), nil), "date participates")
}

func TestCompute_IgnoresIrrelevantInput(t *testing.T) {
	base := Compute(swimRule(), tuesday, nil)

	r := swimRule()
	r.Name = "Renamed"
	r.Enrolments = []string{"p1", "p2"}
	assert.Equal(t, base, Compute(r, tuesday, nil), "name and roster are not part of the instance shape")
}

func TestCompute_ExceptionParticipates(t *testing.T) {
	r := swimRule()
	base := Compute(r, tuesday, nil)

	start := model.NewTimeOfDay(10, 0)
	exc := &model.Exception{ID: "ex-1", RuleID: r.ID, Date: tuesday, Type: model.ExceptionAdded}
	withExc := Compute(r, tuesday, exc)
	assert.NotEqual(t, base, withExc)

	moved := *exc
	moved.StartOverride = &start
	assert.NotEqual(t, withExc, Compute(r, tuesday, &moved))

	other := *exc
	other.ID = "ex-2"
	assert.NotEqual(t, withExc, Compute(r, tuesday, &other), "exception identity participates")
}

func TestPayload_Golden(t *testing.T) {
	r := swimRule()
	start := model.NewTimeOfDay(9, 30)
	exc := &model.Exception{ID: "ex-1", RuleID: r.ID, Date: tuesday, Type: model.ExceptionAdded, StartOverride: &start}

	tests := []struct {
		name string
		exc  *model.Exception
	}{
		{"payload_no_exception", nil},
		{"payload_with_exception", exc},
	}
	g := goldie.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ir.MarshalCanonical(Payload(r, tuesday, tt.exc))
			require.NoError(t, err)
			g.Assert(t, tt.name, b)
		})
	}
}
