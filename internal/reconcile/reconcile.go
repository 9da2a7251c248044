// Package reconcile decides how projected state meets materialised state.
//
// It is the single place where "preserve if overridden" is decided. The same
// Policy serves instances, attendance rows, staff assignments and vehicle
// assignments: callers describe what "same shape", "bookkeeping" and
// "identity" mean for their type and get back the action to apply.
package reconcile

// Action is the write the caller must perform.
type Action int

const (
	// Create inserts the projected value; nothing existed.
	Create Action = iota
	// Replace overwrites rule-derived fields; existing identity is kept.
	Replace
	// Refresh updates bookkeeping only; the shape is unchanged.
	Refresh
	// Preserve updates bookkeeping only because a human edited the row.
	Preserve
)

func (a Action) String() string {
	switch a {
	case Create:
		return "create"
	case Replace:
		return "replace"
	case Refresh:
		return "refresh"
	case Preserve:
		return "preserve"
	}
	return "unknown"
}

// Policy describes a reconcilable type.
type Policy[T any] struct {
	// SameShape reports whether the rule-derived fields are equal.
	SameShape func(existing, projected T) bool

	// Bookkeep returns existing with only its bookkeeping fields taken from
	// projected. Nil means the type has no bookkeeping fields.
	Bookkeep func(existing, projected T) T

	// Adopt returns projected carrying existing's identity and any state the
	// projector never owns.
	Adopt func(existing, projected T) T
}

// Outcome is the action and the exact value to write.
type Outcome[T any] struct {
	Action Action
	Value  T
}

// Reconcile decides the write for one value. An overridden existing value
// never has a rule-derived field changed.
func (p Policy[T]) Reconcile(existing *T, projected T, overridden bool) Outcome[T] {
	if existing == nil {
		return Outcome[T]{Action: Create, Value: projected}
	}
	if overridden {
		return Outcome[T]{Action: Preserve, Value: p.bookkeep(*existing, projected)}
	}
	if p.SameShape != nil && p.SameShape(*existing, projected) {
		return Outcome[T]{Action: Refresh, Value: p.bookkeep(*existing, projected)}
	}
	adopted := projected
	if p.Adopt != nil {
		adopted = p.Adopt(*existing, projected)
	}
	return Outcome[T]{Action: Replace, Value: adopted}
}

func (p Policy[T]) bookkeep(existing, projected T) T {
	if p.Bookkeep == nil {
		return existing
	}
	return p.Bookkeep(existing, projected)
}

// SetPlan is the difference between the rows that exist and the rows the
// allocator wants.
type SetPlan[T any] struct {
	Insert    []T
	Update    []T
	Delete    []T
	Keep      []T
	Preserved []T
}

// ReconcileSet plans the writes that turn existing into desired, row by row.
// Rows are matched by key. An overridden existing row is preserved as is and
// suppresses any desired row with the same key; every other existing row
// missing from desired is deleted.
func (p Policy[T]) ReconcileSet(existing, desired []T, key func(T) string, overridden func(T) bool) SetPlan[T] {
	var plan SetPlan[T]
	byKey := make(map[string]int, len(existing))
	for i, row := range existing {
		byKey[key(row)] = i
	}

	wanted := make(map[string]bool, len(desired))
	for _, want := range desired {
		k := key(want)
		if wanted[k] {
			continue
		}
		wanted[k] = true

		idx, ok := byKey[k]
		if !ok {
			plan.Insert = append(plan.Insert, want)
			continue
		}
		cur := existing[idx]
		out := p.Reconcile(&cur, want, overridden(cur))
		switch out.Action {
		case Preserve:
			plan.Preserved = append(plan.Preserved, cur)
		case Refresh:
			plan.Keep = append(plan.Keep, out.Value)
		case Replace:
			plan.Update = append(plan.Update, out.Value)
		}
	}

	for _, row := range existing {
		if wanted[key(row)] {
			continue
		}
		if overridden(row) {
			plan.Preserved = append(plan.Preserved, row)
			continue
		}
		plan.Delete = append(plan.Delete, row)
	}
	return plan
}
