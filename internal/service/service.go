// Package service is the Loom's control surface: every read and command the
// presentation layer and schedulers use, over one store.
package service

import (
	"context"
	"time"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/config"
	"github.com/roach88/loom/internal/events"
	"github.com/roach88/loom/internal/lifecycle"
	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/metrics"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/routing"
	"github.com/roach88/loom/internal/rulefile"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/weaver"
)

// Service wires the allocator, projector, event handler and window manager
// to one store. It holds no state of its own.
type Service struct {
	store  *store.Store
	alloc  *allocator.Allocator
	weaver *weaver.Weaver
	events *events.Handler
	window *lifecycle.Manager
	clock  model.Clock
	log    logger.Logger
}

type options struct {
	clock     model.Clock
	ids       model.IDGenerator
	router    routing.Router
	sampler   weaver.Sampler
	recorder  metrics.Recorder
	newLogger func(component string) logger.Logger
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

// WithClock sets the clock.
func WithClock(c model.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDs sets the ID generator.
func WithIDs(ids model.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithRouter sets the routing provider.
func WithRouter(r routing.Router) Option {
	return func(o *options) { o.router = r }
}

// WithSampler sets the quality-audit sampler.
func WithSampler(s weaver.Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogger builds each component's logger from opts.
func WithLogger(opts logger.Options) Option {
	return func(o *options) {
		o.newLogger = func(component string) logger.Logger { return logger.New(opts, component) }
	}
}

// New assembles a Service from cfg.
func New(s *store.Store, cfg *config.Config, opts ...Option) *Service {
	o := options{
		clock:     model.SystemClock{},
		ids:       model.UUIDv7Generator{},
		recorder:  metrics.NopRecorder{},
		newLogger: func(string) logger.Logger { return logger.NopLogger{} },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.router == nil {
		if cfg.Routing.BaseURL != "" {
			o.router = routing.NewClient(cfg.Routing.BaseURL, cfg.Routing.Timeout, cfg.Routing.RatePerSecond)
		} else {
			o.router = routing.Disabled{}
		}
	}
	if o.sampler == nil {
		o.sampler = weaver.NewRandSampler(cfg.Projection.Seed)
	}

	loc := cfg.Window.Location()
	alloc := allocator.New(o.ids, o.router, allocator.Config{
		PayPeriodDays:   cfg.Allocation.PayPeriodDays,
		PayPeriodAnchor: cfg.Allocation.Anchor(),
		Location:        loc,
	}, o.newLogger("allocator"))
	w := weaver.New(s, alloc, o.ids, o.clock,
		weaver.WithSampler(o.sampler),
		weaver.WithAuditPercent(cfg.Projection.AuditSamplePercent),
		weaver.WithLogger(o.newLogger("weaver")),
		weaver.WithRecorder(o.recorder))
	ev := events.New(s, alloc, o.ids, o.clock,
		events.WithShortNotice(time.Duration(cfg.Events.ShortNoticeHours*float64(time.Hour))),
		events.WithLocation(loc),
		events.WithLogger(o.newLogger("events")),
		events.WithRecorder(o.recorder))
	lc := lifecycle.New(s, w, o.ids, o.clock,
		lifecycle.WithLocation(loc),
		lifecycle.WithLogger(o.newLogger("lifecycle")),
		lifecycle.WithRecorder(o.recorder))

	return &Service{
		store:  s,
		alloc:  alloc,
		weaver: w,
		events: ev,
		window: lc,
		clock:  o.clock,
		log:    o.newLogger("service"),
	}
}

// GenerateWindow materialises the window for the first time.
func (s *Service) GenerateWindow(ctx context.Context, weeks int) (lifecycle.WindowResult, error) {
	return s.window.Generate(ctx, weeks)
}

// ResizeWindow changes the window length and projects the delta.
func (s *Service) ResizeWindow(ctx context.Context, weeks int) (lifecycle.WindowResult, error) {
	return s.window.Resize(ctx, weeks)
}

// RollNow archives the past and advances the window out of cycle.
func (s *Service) RollNow(ctx context.Context) (lifecycle.RollResult, error) {
	return s.window.Roll(ctx)
}

// GetWindow returns the persisted window.
func (s *Service) GetWindow(ctx context.Context) (model.Window, error) {
	w, ok, err := s.window.Window(ctx)
	if err != nil {
		return model.Window{}, err
	}
	if !ok {
		return model.Window{}, model.NotFoundf("window has not been generated")
	}
	return w, nil
}

// Reproject runs a projection pass over the current window. With
// fullRebuild unedited instances are cleared and rebuilt first.
func (s *Service) Reproject(ctx context.Context, fullRebuild bool) (weaver.Stats, error) {
	w, err := s.GetWindow(ctx)
	if err != nil {
		return weaver.Stats{}, err
	}
	return s.weaver.Project(ctx, w.Start, w.End, fullRebuild)
}

// ImportRules validates and stores a rule file.
func (s *Service) ImportRules(ctx context.Context, f *rulefile.File) (rulefile.Summary, error) {
	var sum rulefile.Summary
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		sum, err = rulefile.Apply(ctx, tx, f, s.clock.Now().UTC())
		return err
	})
	if err != nil {
		return rulefile.Summary{}, err
	}
	s.log.Infof("imported %d rules (%d changed), %d ratio tables, %d exceptions",
		sum.Rules, sum.RulesChanged, sum.RatioTables, sum.Exceptions)
	return sum, nil
}

// ListPayments lists payment diamonds; an empty status lists all.
func (s *Service) ListPayments(ctx context.Context, status model.PaymentStatus) ([]model.PaymentDiamond, error) {
	return s.window.Payments(ctx, status)
}

// MarkBilled moves pending diamonds to billed.
func (s *Service) MarkBilled(ctx context.Context, ids []string) ([]model.PaymentDiamond, error) {
	return s.window.MarkBilled(ctx, ids)
}

// CancelParticipant cancels an attendance row and reallocates.
func (s *Service) CancelParticipant(ctx context.Context, attendanceID string, kind model.CancellationType) (events.CancellationResult, error) {
	return s.events.CancelParticipant(ctx, attendanceID, kind)
}

// ReportStaffSickness marks a shift sick and looks for a replacement.
func (s *Service) ReportStaffSickness(ctx context.Context, shiftID string) (events.SicknessResult, error) {
	return s.events.ReportStaffSickness(ctx, shiftID)
}

// ReoptimizeInstance reruns staff and vehicle allocation.
func (s *Service) ReoptimizeInstance(ctx context.Context, instanceID string) (allocator.Result, error) {
	return s.events.Reoptimize(ctx, instanceID)
}
