// Package events applies ad-hoc changes to a live instance: participant
// cancellations, staff sickness and on-demand reoptimisation.
//
// Every handler runs in its own transaction scoped to one instance. Rows an
// event changes are marked overridden so later projection passes leave them
// alone. Not finding a replacement is a reported outcome, not an error.
package events

import (
	"context"
	"time"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/metrics"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
)

// DefaultShortNotice is the cancellation notice below which a cancellation
// is short notice.
const DefaultShortNotice = 2 * time.Hour

// Handler applies dynamic events.
type Handler struct {
	store       *store.Store
	alloc       *allocator.Allocator
	ids         model.IDGenerator
	clock       model.Clock
	shortNotice time.Duration
	loc         *time.Location
	log         logger.Logger
	metrics     metrics.Recorder
}

// Option configures a Handler.
type Option func(*Handler)

// WithShortNotice sets the short-notice threshold.
func WithShortNotice(d time.Duration) Option {
	return func(h *Handler) { h.shortNotice = d }
}

// WithLocation sets the zone instance start times are local to.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) { h.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = r }
}

// New creates a Handler.
func New(s *store.Store, alloc *allocator.Allocator, ids model.IDGenerator, clock model.Clock, opts ...Option) *Handler {
	h := &Handler{
		store:       s,
		alloc:       alloc,
		ids:         ids,
		clock:       clock,
		shortNotice: DefaultShortNotice,
		loc:         time.UTC,
		log:         logger.NopLogger{},
		metrics:     metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CancellationResult is the cancelled row and the reallocation it caused.
type CancellationResult struct {
	Attendance model.Attendance `json:"attendance"`
	Allocation allocator.Result `json:"allocation"`
}

// CancelParticipant cancels an attendance row. A normal cancellation made
// inside the short-notice threshold is reclassified as short notice, which
// carries billing impact. Staff and vehicles are then reallocated for the
// smaller group.
func (h *Handler) CancelParticipant(ctx context.Context, attendanceID string, kind model.CancellationType) (CancellationResult, error) {
	if attendanceID == "" {
		return CancellationResult{}, model.Validationf("attendance id is required")
	}
	if kind != model.CancelNormal && kind != model.CancelShortNotice {
		return CancellationResult{}, model.Validationf("unknown cancellation type %q", kind)
	}

	var res CancellationResult
	err := h.store.InTx(ctx, func(tx *store.Tx) error {
		att, err := tx.AttendanceByID(ctx, attendanceID)
		if err != nil {
			return err
		}
		if att.Status == model.AttendanceCancelled {
			return model.Conflictf("attendance %s is already cancelled", attendanceID)
		}
		inst, err := tx.InstanceByID(ctx, att.InstanceID)
		if err != nil {
			return err
		}

		now := h.clock.Now().UTC()
		notice := max(inst.StartsAt(h.loc).Sub(now), 0)
		if kind == model.CancelNormal && notice < h.shortNotice {
			kind = model.CancelShortNotice
		}
		hours := notice.Hours()

		att.Status = model.AttendanceCancelled
		att.CancellationType = kind
		att.BillingImpact = kind == model.CancelShortNotice
		att.HoursNotice = &hours
		att.CancelledAt = &now
		att.IsOverridden = true
		if err := tx.UpdateAttendance(ctx, att); err != nil {
			return err
		}

		alloc, err := h.alloc.Allocate(ctx, tx, inst)
		if err != nil {
			return err
		}
		res = CancellationResult{Attendance: att, Allocation: alloc}
		return nil
	})
	if err != nil {
		h.metrics.Event("cancel_participant", "error")
		return CancellationResult{}, err
	}

	h.metrics.Event("cancel_participant", string(res.Attendance.CancellationType))
	h.log.Infow("participant cancelled", map[string]any{
		"attendance_id":  res.Attendance.ID,
		"instance_id":    res.Attendance.InstanceID,
		"participant_id": res.Attendance.ParticipantID,
		"type":           res.Attendance.CancellationType,
		"hours_notice":   *res.Attendance.HoursNotice,
		"billing_impact": res.Attendance.BillingImpact,
	})
	return res, nil
}

// SicknessResult reports how a sick shift was covered. Substitute is nil
// and NeedsAttention true when nobody was free.
type SicknessResult struct {
	Shift          model.StaffAssignment   `json:"shift"`
	Substitute     *model.StaffAssignment  `json:"substitute,omitempty"`
	NeedsAttention bool                    `json:"needs_attention"`
	Vehicle        allocator.VehicleResult `json:"vehicle"`
}

// ReportStaffSickness marks a shift sick, records a day of leave and looks
// for a same-day replacement with the allocator's availability rules. The
// replacement takes over the sick shift's role. The vehicle's driver is
// re-picked in case the sick staff member was driving.
func (h *Handler) ReportStaffSickness(ctx context.Context, shiftID string) (SicknessResult, error) {
	if shiftID == "" {
		return SicknessResult{}, model.Validationf("shift id is required")
	}

	var res SicknessResult
	err := h.store.InTx(ctx, func(tx *store.Tx) error {
		shift, err := tx.StaffAssignmentByID(ctx, shiftID)
		if err != nil {
			return err
		}
		if shift.Status == model.ShiftSick {
			return model.Conflictf("shift %s is already reported sick", shiftID)
		}
		inst, err := tx.InstanceByID(ctx, shift.InstanceID)
		if err != nil {
			return err
		}

		shift.Status = model.ShiftSick
		shift.IsOverridden = true
		if err := tx.InsertStaffLeave(ctx, model.StaffLeave{
			StaffID: shift.StaffID, Date: inst.Date, Reason: "sick",
		}); err != nil {
			return err
		}

		staffID, found, err := h.alloc.Replacement(ctx, tx, inst)
		if err != nil {
			return err
		}
		if found {
			sub := model.StaffAssignment{
				ID:            h.ids.NewID(),
				InstanceID:    inst.ID,
				StaffID:       staffID,
				SourceRuleID:  shift.SourceRuleID,
				Role:          shift.Role,
				Status:        model.ShiftAssigned,
				IsOverridden:  true,
				SubstituteFor: shift.ID,
			}
			if err := tx.InsertStaffAssignment(ctx, sub); err != nil {
				return err
			}
			res.Substitute = &sub
		} else {
			shift.NeedsAttention = true
			res.NeedsAttention = true
		}
		if err := tx.UpdateStaffAssignment(ctx, shift); err != nil {
			return err
		}
		res.Shift = shift

		res.Vehicle, err = h.alloc.AssignVehicle(ctx, tx, inst)
		return err
	})
	if err != nil {
		h.metrics.Event("staff_sickness", "error")
		return SicknessResult{}, err
	}

	if res.Substitute != nil {
		h.metrics.Event("staff_sickness", "substituted")
		h.log.Infof("staff %s sick on instance %s; substituted by %s",
			res.Shift.StaffID, res.Shift.InstanceID, res.Substitute.StaffID)
	} else {
		h.metrics.Event("staff_sickness", "needs_attention")
		h.log.Warnf("staff %s sick on instance %s; no replacement available",
			res.Shift.StaffID, res.Shift.InstanceID)
	}
	return res, nil
}

// Reoptimize reruns staff and vehicle allocation against the instance's
// current attendance.
func (h *Handler) Reoptimize(ctx context.Context, instanceID string) (allocator.Result, error) {
	if instanceID == "" {
		return allocator.Result{}, model.Validationf("instance id is required")
	}
	var res allocator.Result
	err := h.store.InTx(ctx, func(tx *store.Tx) error {
		inst, err := tx.InstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}
		res, err = h.alloc.Allocate(ctx, tx, inst)
		return err
	})
	if err != nil {
		h.metrics.Event("reoptimize", "error")
		return allocator.Result{}, err
	}
	h.metrics.Event("reoptimize", "ok")
	return res, nil
}
