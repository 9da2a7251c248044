// Package lifecycle maintains the rolling window: first generation, resizing
// and the daily roll that archives the past and projects the new far end.
package lifecycle

import (
	"context"
	"time"

	"github.com/roach88/loom/internal/config"
	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/metrics"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/weaver"
)

// Manager owns the window state. It keeps nothing in memory between calls;
// the persisted window is the only state.
type Manager struct {
	store   *store.Store
	weaver  *weaver.Weaver
	ids     model.IDGenerator
	clock   model.Clock
	loc     *time.Location
	log     logger.Logger
	metrics metrics.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocation sets the timezone that decides what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) { m.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// New creates a Manager.
func New(s *store.Store, w *weaver.Weaver, ids model.IDGenerator, clock model.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:   s,
		weaver:  w,
		ids:     ids,
		clock:   clock,
		loc:     time.UTC,
		log:     logger.NopLogger{},
		metrics: metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WindowResult is the window after an operation and the projection it ran.
type WindowResult struct {
	Window     model.Window `json:"window"`
	Projection weaver.Stats `json:"projection"`
	Removed    int          `json:"removed"`
}

// RollResult adds the archival pass to a window result.
type RollResult struct {
	WindowResult
	Archive ArchiveStats `json:"archive"`
}

func validateWeeks(weeks int) error {
	if weeks < config.MinWindowWeeks || weeks > config.MaxWindowWeeks {
		return model.Validationf("window size must be between %d and %d weeks, got %d",
			config.MinWindowWeeks, config.MaxWindowWeeks, weeks)
	}
	return nil
}

// today is the current date in the manager's timezone.
func (m *Manager) today() time.Time {
	return model.Day(m.clock.Now().In(m.loc))
}

// Window returns the persisted window. ok is false before Generate.
func (m *Manager) Window(ctx context.Context) (w model.Window, ok bool, err error) {
	err = m.store.InTx(ctx, func(tx *store.Tx) error {
		w, ok, err = tx.Window(ctx)
		return err
	})
	return w, ok, err
}

// Generate materialises a window of weeks starting today with a full
// rebuild. Calling it again regenerates from today.
func (m *Manager) Generate(ctx context.Context, weeks int) (WindowResult, error) {
	if err := validateWeeks(weeks); err != nil {
		return WindowResult{}, err
	}
	now := m.clock.Now().UTC()
	start := m.today()
	win := model.Window{
		Weeks:       weeks,
		Start:       start,
		End:         start.AddDate(0, 0, 7*weeks),
		GeneratedAt: now,
		RolledAt:    now,
	}

	var res WindowResult
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		stats, err := m.weaver.ProjectTx(ctx, tx, win.Start, win.End, true)
		if err != nil {
			return err
		}
		res = WindowResult{Window: win, Projection: stats}
		return tx.PutWindow(ctx, win)
	})
	if err != nil {
		return WindowResult{}, err
	}
	m.weaver.Record(res.Projection)
	m.log.Infof("window generated: %s to %s (%d weeks)",
		model.FormatDate(win.Start), model.FormatDate(win.End), weeks)
	return res, nil
}

// Resize changes the window length. Growing projects only the newly
// included dates; shrinking drops unedited instances past the new end.
func (m *Manager) Resize(ctx context.Context, weeks int) (WindowResult, error) {
	if err := validateWeeks(weeks); err != nil {
		return WindowResult{}, err
	}

	var res WindowResult
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		win, ok, err := tx.Window(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return model.Validationf("window has not been generated")
		}

		oldEnd := win.End
		win.Weeks = weeks
		win.End = win.Start.AddDate(0, 0, 7*weeks)

		switch {
		case win.End.After(oldEnd):
			res.Projection, err = m.weaver.ProjectTx(ctx, tx, oldEnd, win.End, false)
		case win.End.Before(oldEnd):
			res.Removed, err = tx.ClearProjectedFrom(ctx, win.End)
		}
		if err != nil {
			return err
		}
		res.Window = win
		return tx.PutWindow(ctx, win)
	})
	if err != nil {
		return WindowResult{}, err
	}
	if !res.Projection.End.IsZero() {
		m.weaver.Record(res.Projection)
	}
	m.log.Infof("window resized to %d weeks, now ending %s (removed %d)",
		weeks, model.FormatDate(res.Window.End), res.Removed)
	return res, nil
}

// Roll archives every instance dated before today, moves the window start
// to today and projects the dates that entered at the far end.
func (m *Manager) Roll(ctx context.Context) (RollResult, error) {
	win, ok, err := m.Window(ctx)
	if err != nil {
		return RollResult{}, err
	}
	if !ok {
		return RollResult{}, model.Validationf("window has not been generated")
	}
	today := m.today()

	var res RollResult
	res.Archive, err = m.Archive(ctx, today)
	if err != nil {
		return RollResult{}, err
	}

	err = m.store.InTx(ctx, func(tx *store.Tx) error {
		from := win.End
		if from.Before(today) {
			from = today
		}
		win.Start = today
		win.End = today.AddDate(0, 0, 7*win.Weeks)
		win.RolledAt = m.clock.Now().UTC()

		var err error
		if res.Projection, err = m.weaver.ProjectTx(ctx, tx, from, win.End, false); err != nil {
			return err
		}
		res.Window = win
		return tx.PutWindow(ctx, win)
	})
	if err != nil {
		return RollResult{}, err
	}
	m.weaver.Record(res.Projection)
	m.log.Infof("window rolled to %s..%s: archived %d, created %d",
		model.FormatDate(win.Start), model.FormatDate(win.End), res.Archive.Archived, res.Projection.Created)
	return res, nil
}
