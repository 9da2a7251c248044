package service

import (
	"context"
	"time"

	"github.com/roach88/loom/internal/allocator"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
	"github.com/roach88/loom/internal/weaver"
)

// GetInstances returns the instances dated in [start, end) with their rows
// and shortfall.
func (s *Service) GetInstances(ctx context.Context, start, end time.Time) ([]model.Instance, error) {
	if !model.Day(start).Before(model.Day(end)) {
		return nil, model.Validationf("start %s must be before end %s", model.FormatDate(start), model.FormatDate(end))
	}
	var out []model.Instance
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		insts, err := tx.InstancesBetween(ctx, start, end)
		if err != nil {
			return err
		}
		for i := range insts {
			if err := detail(ctx, tx, &insts[i]); err != nil {
				return err
			}
		}
		out = insts
		return nil
	})
	return out, err
}

// GetInstance returns one instance with its rows and shortfall.
func (s *Service) GetInstance(ctx context.Context, id string) (model.Instance, error) {
	var inst model.Instance
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if inst, err = tx.InstanceByID(ctx, id); err != nil {
			return err
		}
		return detail(ctx, tx, &inst)
	})
	return inst, err
}

func detail(ctx context.Context, tx *store.Tx, inst *model.Instance) error {
	if err := tx.LoadDetails(ctx, inst); err != nil {
		return err
	}
	short, err := allocator.Assess(ctx, tx, *inst)
	if err != nil {
		return err
	}
	inst.Shortfall = &short
	return nil
}

// AllocateParticipants refreshes an instance's attendance from its rule's
// enrolments.
func (s *Service) AllocateParticipants(ctx context.Context, instanceID string) (allocator.ParticipantResult, error) {
	var res allocator.ParticipantResult
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		inst, err := tx.InstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}
		rule, err := tx.Rule(ctx, inst.SourceRuleID)
		if err != nil {
			return err
		}
		res, err = s.alloc.AllocateParticipants(ctx, tx, inst, rule)
		return err
	})
	return res, err
}

// AssignStaff reruns staff allocation for one instance.
func (s *Service) AssignStaff(ctx context.Context, instanceID string) (allocator.StaffResult, error) {
	var res allocator.StaffResult
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		inst, err := tx.InstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}
		res, err = s.alloc.AssignStaff(ctx, tx, inst)
		return err
	})
	return res, err
}

// AssignVehicles reruns vehicle allocation for one instance.
func (s *Service) AssignVehicles(ctx context.Context, instanceID string) (allocator.VehicleResult, error) {
	var res allocator.VehicleResult
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		inst, err := tx.InstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}
		res, err = s.alloc.AssignVehicle(ctx, tx, inst)
		return err
	})
	return res, err
}

// InstanceEdit is an operator change to an instance. Nil fields are left
// alone.
type InstanceEdit struct {
	Start             *model.TimeOfDay `json:"start,omitempty"`
	End               *model.TimeOfDay `json:"end,omitempty"`
	VenueID           *string          `json:"venue_id,omitempty"`
	RequiresTransport *bool            `json:"requires_transport,omitempty"`
}

// EditInstance applies an operator edit, marks the instance overridden and
// reallocates staff and vehicles for the new shape.
func (s *Service) EditInstance(ctx context.Context, id string, edit InstanceEdit) (model.Instance, error) {
	var inst model.Instance
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if inst, err = tx.InstanceByID(ctx, id); err != nil {
			return err
		}
		if edit.Start != nil {
			inst.Start = *edit.Start
		}
		if edit.End != nil {
			inst.End = *edit.End
		}
		if edit.VenueID != nil {
			if *edit.VenueID == "" {
				return model.Validationf("venue_id cannot be empty")
			}
			inst.VenueID = *edit.VenueID
		}
		if edit.RequiresTransport != nil {
			inst.RequiresTransport = *edit.RequiresTransport
		}
		if inst.Start < 0 || inst.End > 24*60 || inst.End <= inst.Start {
			return model.Validationf("instance time %s-%s is not a valid range", inst.Start, inst.End)
		}

		inst.IsOverridden = true
		inst.UpdatedAt = s.clock.Now().UTC()
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		if _, err := s.alloc.Allocate(ctx, tx, inst); err != nil {
			return err
		}
		return detail(ctx, tx, &inst)
	})
	if err != nil {
		return model.Instance{}, err
	}
	s.log.Infof("instance %s edited by operator", id)
	return inst, nil
}

// SetAttendanceStatus records an operator-set status such as attended or
// no_show. Cancellations go through CancelParticipant so notice is
// recorded.
func (s *Service) SetAttendanceStatus(ctx context.Context, attendanceID string, status model.AttendanceStatus) (model.Attendance, error) {
	if !status.Valid() {
		return model.Attendance{}, model.Validationf("unknown attendance status %q", status)
	}
	if status == model.AttendanceCancelled {
		return model.Attendance{}, model.Validationf("use the cancel operation to cancel attendance")
	}
	var att model.Attendance
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if att, err = tx.AttendanceByID(ctx, attendanceID); err != nil {
			return err
		}
		att.Status = status
		att.IsOverridden = true
		if err := tx.UpdateAttendance(ctx, att); err != nil {
			return err
		}
		inst, err := tx.InstanceByID(ctx, att.InstanceID)
		if err != nil {
			return err
		}
		_, err = s.alloc.Allocate(ctx, tx, inst)
		return err
	})
	return att, err
}

// ClearOverride hands an instance back to the projector: the override flag
// is dropped and the instance's own rule is reprojected for its date at
// once. Other rules on that date are left alone. Child rows keep their own
// override flags.
func (s *Service) ClearOverride(ctx context.Context, instanceID string) (model.Instance, error) {
	var (
		inst  model.Instance
		stats weaver.Stats
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.InstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}
		cur.IsOverridden = false
		cur.ProjectionHash = ""
		cur.UpdatedAt = s.clock.Now().UTC()
		if err := tx.UpdateInstance(ctx, cur); err != nil {
			return err
		}

		if stats, err = s.weaver.ProjectRuleTx(ctx, tx, cur.SourceRuleID, cur.Date, cur.Date.AddDate(0, 0, 1)); err != nil {
			return err
		}
		inst, err = tx.InstanceByID(ctx, instanceID)
		if model.IsNotFound(err) {
			return model.Conflictf("instance %s is cancelled on %s; keep the override or delete the exception",
				instanceID, model.FormatDate(cur.Date))
		}
		if err != nil {
			return err
		}
		return detail(ctx, tx, &inst)
	})
	if err != nil {
		return model.Instance{}, err
	}
	s.weaver.Record(stats)
	s.log.Infof("override cleared on instance %s", instanceID)
	return inst, nil
}
