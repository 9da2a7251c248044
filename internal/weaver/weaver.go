// Package weaver projects the active rule set onto the live window.
//
// A projection pass walks every active rule and every date it fires on,
// computes the fingerprint of what the rule would produce and reconciles it
// with the instance already stored for that (rule, date). Instances an
// operator has edited keep every field they own; only the projection
// bookkeeping moves. Each instance is then handed to the allocator.
//
// A pass runs inside one transaction: a hard failure rolls back the whole
// window rather than leaving it half projected.
package weaver

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/fingerprint"
	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/metrics"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/occurrence"
	"github.com/roach88/loom/internal/reconcile"
	"github.com/roach88/loom/internal/store"
)

// Stats summarises one projection pass. Shortfalls are counted here rather
// than returned as errors.
type Stats struct {
	Start             time.Time     `json:"start"`
	End               time.Time     `json:"end"`
	FullRebuild       bool          `json:"full_rebuild"`
	Rules             int           `json:"rules"`
	Created           int           `json:"created"`
	Replaced          int           `json:"replaced"`
	Refreshed         int           `json:"refreshed"`
	Preserved         int           `json:"preserved"`
	Cleared           int           `json:"cleared"`
	Removed           int           `json:"removed"`
	ExceptionsApplied int           `json:"exceptions_applied"`
	Audited           int           `json:"audited"`
	Understaffed      int           `json:"understaffed"`
	Unvehicled        int           `json:"unvehicled"`
	Duration          time.Duration `json:"duration"`
}

// Instances is the number of instances the pass left in the window.
func (s Stats) Instances() int {
	return s.Created + s.Replaced + s.Refreshed + s.Preserved
}

// Weaver is the instance projector.
type Weaver struct {
	store        *store.Store
	alloc        *allocator.Allocator
	ids          model.IDGenerator
	clock        model.Clock
	sampler      Sampler
	auditPercent float64
	log          logger.Logger
	metrics      metrics.Recorder
}

// Option configures a Weaver.
type Option func(*Weaver)

// WithSampler sets the quality-audit sampler.
func WithSampler(s Sampler) Option {
	return func(w *Weaver) { w.sampler = s }
}

// WithAuditPercent sets the share of created or reshaped instances flagged
// for audit, from 0 to 100.
func WithAuditPercent(p float64) Option {
	return func(w *Weaver) { w.auditPercent = p }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Weaver) { w.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(w *Weaver) { w.metrics = r }
}

// New creates a Weaver. Without options nothing is sampled, logged or
// recorded.
func New(s *store.Store, alloc *allocator.Allocator, ids model.IDGenerator, clock model.Clock, opts ...Option) *Weaver {
	w := &Weaver{
		store:   s,
		alloc:   alloc,
		ids:     ids,
		clock:   clock,
		sampler: NewRandSampler(0),
		log:     logger.NopLogger{},
		metrics: metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Project runs one pass over [start, end) in its own transaction. With
// fullRebuild every unedited instance in range is cleared first.
func (w *Weaver) Project(ctx context.Context, start, end time.Time, fullRebuild bool) (Stats, error) {
	var stats Stats
	err := w.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		stats, err = w.ProjectTx(ctx, tx, start, end, fullRebuild)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	w.Record(stats)
	return stats, nil
}

// ProjectTx runs a pass inside a caller-owned transaction so window
// bookkeeping can commit together with the instances. Callers report the
// stats with Record once the transaction commits.
func (w *Weaver) ProjectTx(ctx context.Context, tx *store.Tx, start, end time.Time, fullRebuild bool) (Stats, error) {
	began := time.Now()
	stats := Stats{Start: model.Day(start), End: model.Day(end), FullRebuild: fullRebuild}
	if !stats.Start.Before(stats.End) {
		return stats, nil
	}

	if fullRebuild {
		n, err := tx.ClearProjected(ctx, stats.Start, stats.End)
		if err != nil {
			return Stats{}, err
		}
		stats.Cleared = n
	}

	rules, err := tx.ActiveRules(ctx)
	if err != nil {
		return Stats{}, err
	}
	exceptions, err := tx.ExceptionsBetween(ctx, stats.Start, stats.End)
	if err != nil {
		return Stats{}, err
	}
	stats.Rules = len(rules)
	now := w.clock.Now().UTC()

	for _, rule := range rules {
		if err := w.projectRule(ctx, tx, rule, exceptions, now, &stats); err != nil {
			return Stats{}, err
		}
	}

	stats.Duration = time.Since(began)
	return stats, nil
}

// ProjectRuleTx runs a pass for one rule inside a caller-owned transaction.
// An inactive or unknown rule projects nothing.
func (w *Weaver) ProjectRuleTx(ctx context.Context, tx *store.Tx, ruleID string, start, end time.Time) (Stats, error) {
	began := time.Now()
	stats := Stats{Start: model.Day(start), End: model.Day(end)}
	if !stats.Start.Before(stats.End) {
		return stats, nil
	}

	rule, err := tx.Rule(ctx, ruleID)
	if model.IsNotFound(err) {
		return stats, nil
	}
	if err != nil {
		return Stats{}, err
	}
	if !rule.Active {
		return stats, nil
	}
	exceptions, err := tx.ExceptionsBetween(ctx, stats.Start, stats.End)
	if err != nil {
		return Stats{}, err
	}
	stats.Rules = 1
	if err := w.projectRule(ctx, tx, rule, exceptions, w.clock.Now().UTC(), &stats); err != nil {
		return Stats{}, err
	}
	stats.Duration = time.Since(began)
	return stats, nil
}

func (w *Weaver) projectRule(ctx context.Context, tx *store.Tx, rule model.Rule, exceptions []model.Exception, now time.Time, stats *Stats) error {
	byDate := occurrence.Index(rule.ID, exceptions)
	for _, date := range occurrence.Generate(rule, stats.Start, stats.End, exceptions) {
		var exc *model.Exception
		if e, ok := byDate[date]; ok {
			stats.ExceptionsApplied++
			if e.Type == model.ExceptionCancelled {
				if err := w.cancel(ctx, tx, rule.ID, date, stats); err != nil {
					return err
				}
				continue
			}
			exc = &e
		}
		if err := w.projectOne(ctx, tx, rule, date, exc, now, stats); err != nil {
			if model.IsConsistency(err) {
				w.log.Errorf("consistency violation projecting rule %s on %s: %v",
					rule.ID, model.FormatDate(date), err)
			}
			return fmt.Errorf("project rule %s on %s: %w", rule.ID, model.FormatDate(date), err)
		}
	}
	return nil
}

// Record reports a committed pass to metrics and the log.
func (w *Weaver) Record(stats Stats) {
	w.metrics.ProjectionOutcome("created", stats.Created)
	w.metrics.ProjectionOutcome("replaced", stats.Replaced)
	w.metrics.ProjectionOutcome("refreshed", stats.Refreshed)
	w.metrics.ProjectionOutcome("preserved", stats.Preserved)
	w.metrics.ProjectionOutcome("cleared", stats.Cleared+stats.Removed)
	w.metrics.ProjectionDuration(stats.Duration)
	for range stats.Understaffed {
		w.metrics.AllocationShortfall("understaffed")
	}
	for range stats.Unvehicled {
		w.metrics.AllocationShortfall("unvehicled")
	}
	w.log.Infow("projection pass complete", map[string]any{
		"start":              model.FormatDate(stats.Start),
		"end":                model.FormatDate(stats.End),
		"full_rebuild":       stats.FullRebuild,
		"rules":              stats.Rules,
		"created":            stats.Created,
		"replaced":           stats.Replaced,
		"refreshed":          stats.Refreshed,
		"preserved":          stats.Preserved,
		"cleared":            stats.Cleared,
		"removed":            stats.Removed,
		"exceptions_applied": stats.ExceptionsApplied,
		"audited":            stats.Audited,
		"understaffed":       stats.Understaffed,
		"unvehicled":         stats.Unvehicled,
		"duration_ms":        stats.Duration.Milliseconds(),
	})
}

var instancePolicy = reconcile.Policy[model.Instance]{
	SameShape: func(existing, projected model.Instance) bool {
		return existing.ProjectionHash == projected.ProjectionHash
	},
	Bookkeep: func(existing, projected model.Instance) model.Instance {
		existing.ProjectionHash = projected.ProjectionHash
		existing.ProjectedAt = projected.ProjectedAt
		return existing
	},
	Adopt: func(existing, projected model.Instance) model.Instance {
		projected.ID = existing.ID
		projected.CreatedAt = existing.CreatedAt
		return projected
	},
}

func (w *Weaver) projectOne(ctx context.Context, tx *store.Tx, rule model.Rule, date time.Time, exc *model.Exception, now time.Time, stats *Stats) error {
	projected := derive(rule, date, exc)
	projected.ID = w.ids.NewID()
	projected.ProjectionHash = fingerprint.Compute(rule, date, exc)
	projected.ProjectedAt = now
	projected.CreatedAt = now
	projected.UpdatedAt = now

	existing, err := tx.InstanceByRuleDate(ctx, rule.ID, date)
	if err != nil {
		return err
	}
	out := instancePolicy.Reconcile(existing, projected, existing != nil && existing.IsOverridden)
	inst := out.Value

	switch out.Action {
	case reconcile.Create:
		inst.QualityAuditFlag = w.sample(stats)
		if err := tx.InsertInstance(ctx, inst); err != nil {
			if store.IsUniqueViolation(err) {
				return model.NewConsistencyError(
					fmt.Sprintf("duplicate instance for rule %s on %s", rule.ID, model.FormatDate(date)), err)
			}
			return err
		}
		stats.Created++
	case reconcile.Replace:
		inst.QualityAuditFlag = w.sample(stats)
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		stats.Replaced++
	case reconcile.Refresh:
		if err := tx.TouchInstance(ctx, inst.ID, inst.ProjectionHash, inst.ProjectedAt); err != nil {
			return err
		}
		stats.Refreshed++
	case reconcile.Preserve:
		if err := tx.TouchInstance(ctx, inst.ID, inst.ProjectionHash, inst.ProjectedAt); err != nil {
			return err
		}
		stats.Preserved++
	}

	res, err := w.alloc.AllocateAll(ctx, tx, inst, rule)
	if err != nil {
		return err
	}
	short := res.Shortfall()
	if short.Understaffed {
		stats.Understaffed++
	}
	if short.Unvehicled {
		stats.Unvehicled++
	}
	return nil
}

// cancel removes an unedited instance on a date a cancelled exception now
// covers. Edited instances stay for the operator to resolve.
func (w *Weaver) cancel(ctx context.Context, tx *store.Tx, ruleID string, date time.Time, stats *Stats) error {
	existing, err := tx.InstanceByRuleDate(ctx, ruleID, date)
	if err != nil || existing == nil {
		return err
	}
	if existing.IsOverridden {
		w.log.Warnf("instance %s is edited; keeping it despite cancellation on %s", existing.ID, model.FormatDate(date))
		return nil
	}
	if err := tx.DeleteInstance(ctx, existing.ID); err != nil {
		return err
	}
	stats.Removed++
	return nil
}

func (w *Weaver) sample(stats *Stats) bool {
	if w.sampler.Sample(w.auditPercent) {
		stats.Audited++
		return true
	}
	return false
}

// derive builds the rule-owned fields of the instance for date, applying any
// added-exception overrides.
func derive(rule model.Rule, date time.Time, exc *model.Exception) model.Instance {
	inst := model.Instance{
		SourceRuleID:      rule.ID,
		Date:              model.Day(date),
		Start:             rule.Start(),
		End:               rule.End(),
		VenueID:           rule.VenueID,
		RequiresTransport: rule.RequiresTransport(),
		RatioTableID:      rule.RatioTableID,
		RateCode:          rule.RateCode,
		Slots:             rule.Slots,
	}
	if exc == nil {
		return inst
	}
	if exc.StartOverride != nil {
		inst.Start = *exc.StartOverride
	}
	if exc.EndOverride != nil {
		inst.End = *exc.EndOverride
	}
	if exc.VenueOverride != "" {
		inst.VenueID = exc.VenueOverride
	}
	return inst
}
