package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID         string
	Key        string
	Start      int
	Hash       string
	Overridden bool
}

var rowPolicy = Policy[row]{
	SameShape: func(e, p row) bool { return e.Start == p.Start },
	Bookkeep: func(e, p row) row {
		e.Hash = p.Hash
		return e
	},
	Adopt: func(e, p row) row {
		p.ID = e.ID
		return p
	},
}

func TestReconcile_CreateWhenMissing(t *testing.T) {
	out := rowPolicy.Reconcile(nil, row{Key: "k", Start: 9, Hash: "h1"}, false)
	assert.Equal(t, Create, out.Action)
	assert.Equal(t, 9, out.Value.Start)
}

func TestReconcile_OverriddenKeepsEditedFields(t *testing.T) {
	existing := row{ID: "i1", Key: "k", Start: 10, Hash: "old", Overridden: true}
	out := rowPolicy.Reconcile(&existing, row{Key: "k", Start: 9, Hash: "new"}, true)

	assert.Equal(t, Preserve, out.Action)
	assert.Equal(t, 10, out.Value.Start, "operator edit must survive")
	assert.Equal(t, "new", out.Value.Hash, "bookkeeping is refreshed")
	assert.True(t, out.Value.Overridden)
	assert.Equal(t, "i1", out.Value.ID)
}

func TestReconcile_RefreshWhenUnchanged(t *testing.T) {
	existing := row{ID: "i1", Key: "k", Start: 9, Hash: "h"}
	out := rowPolicy.Reconcile(&existing, row{Key: "k", Start: 9, Hash: "h"}, false)
	assert.Equal(t, Refresh, out.Action)
	assert.Equal(t, existing, out.Value)
}

func TestReconcile_ReplaceKeepsIdentity(t *testing.T) {
	existing := row{ID: "i1", Key: "k", Start: 9, Hash: "h"}
	out := rowPolicy.Reconcile(&existing, row{ID: "fresh", Key: "k", Start: 11, Hash: "h2"}, false)
	assert.Equal(t, Replace, out.Action)
	assert.Equal(t, "i1", out.Value.ID)
	assert.Equal(t, 11, out.Value.Start)
}

func TestReconcile_NilHooks(t *testing.T) {
	var p Policy[row]
	existing := row{ID: "i1", Start: 9}
	out := p.Reconcile(&existing, row{ID: "i2", Start: 9}, true)
	assert.Equal(t, Preserve, out.Action)
	assert.Equal(t, existing, out.Value)

	out = p.Reconcile(&existing, row{ID: "i2", Start: 9}, false)
	assert.Equal(t, Replace, out.Action, "without SameShape every projection replaces")
	assert.Equal(t, "i2", out.Value.ID)
}

func TestReconcileSet(t *testing.T) {
	existing := []row{
		{ID: "1", Key: "alice", Start: 9},
		{ID: "2", Key: "bob", Start: 9, Overridden: true},
		{ID: "3", Key: "carol", Start: 9},
		{ID: "4", Key: "dave", Start: 9, Overridden: true},
		{ID: "5", Key: "erin", Start: 9},
	}
	desired := []row{
		{Key: "alice", Start: 9},
		{Key: "bob", Start: 10},
		{Key: "erin", Start: 11},
		{Key: "frank", Start: 9},
		{Key: "frank", Start: 9},
	}

	plan := rowPolicy.ReconcileSet(existing, desired,
		func(r row) string { return r.Key },
		func(r row) bool { return r.Overridden })

	keys := func(rows []row) []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Key
		}
		return out
	}
	assert.Equal(t, []string{"frank"}, keys(plan.Insert), "duplicates in desired collapse")
	assert.Equal(t, []string{"erin"}, keys(plan.Update))
	assert.Equal(t, []string{"alice"}, keys(plan.Keep))
	assert.Equal(t, []string{"carol"}, keys(plan.Delete))
	assert.ElementsMatch(t, []string{"bob", "dave"}, keys(plan.Preserved))

	require.Len(t, plan.Update, 1)
	assert.Equal(t, "5", plan.Update[0].ID)
	for _, p := range plan.Preserved {
		assert.Equal(t, 9, p.Start, "preserved rows are untouched")
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "create", Create.String())
	assert.Equal(t, "preserve", Preserve.String())
	assert.Equal(t, "unknown", Action(99).String())
}
