// Package allocator assigns participants, staff and vehicles to an instance.
//
// Allocation converges the instance's rows to a freshly computed set. Rows an
// operator or a dynamic event has marked overridden are never touched; the
// rest are inserted, updated or deleted as the plan requires. Running out of
// staff or vehicles is a reported shortfall, not an error.
package allocator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/reconcile"
	"github.com/roach88/loom/internal/routing"
	"github.com/roach88/loom/internal/store"
)

// Config holds the pay-period settings used to balance staff load and the
// zone instance times are local to.
type Config struct {
	PayPeriodDays   int
	PayPeriodAnchor time.Time
	Location        *time.Location
}

// Allocator is stateless apart from its collaborators; every call works on
// the transaction it is given.
type Allocator struct {
	ids    model.IDGenerator
	router routing.Router
	cfg    Config
	log    logger.Logger
}

// New creates an allocator. A nil router disables route ordering.
func New(ids model.IDGenerator, router routing.Router, cfg Config, log logger.Logger) *Allocator {
	if router == nil {
		router = routing.Disabled{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Allocator{ids: ids, router: router, cfg: cfg, log: log}
}

// RowChanges counts the writes one allocation step made.
type RowChanges struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Preserved int `json:"preserved"`
}

// ParticipantResult reports participant allocation.
type ParticipantResult struct {
	Enrolled int        `json:"enrolled"`
	Changes  RowChanges `json:"changes"`
}

// StaffResult reports staff allocation.
type StaffResult struct {
	VirtualCount  decimal.Decimal `json:"virtual_count"`
	RequiredStaff int             `json:"required_staff"`
	ActiveStaff   int             `json:"active_staff"`
	Understaffed  bool            `json:"understaffed"`
	Changes       RowChanges      `json:"changes"`
}

// VehicleResult reports vehicle allocation.
type VehicleResult struct {
	Required      bool   `json:"required"`
	RequiredSeats int    `json:"required_seats,omitempty"`
	VehicleID     string `json:"vehicle_id,omitempty"`
	DriverStaffID string `json:"driver_staff_id,omitempty"`
	RouteComputed bool   `json:"route_computed"`
	RoutePending  bool   `json:"route_pending,omitempty"`
	Preserved     bool   `json:"preserved"`
	Unvehicled    bool   `json:"unvehicled"`
	NoDriver      bool   `json:"no_driver"`
}

// Result is a full allocation of one instance.
type Result struct {
	InstanceID   string            `json:"instance_id"`
	Participants ParticipantResult `json:"participants"`
	Staff        StaffResult       `json:"staff"`
	Vehicle      VehicleResult     `json:"vehicle"`
}

// Shortfall summarises what still needs an operator.
func (r Result) Shortfall() model.Shortfall {
	return model.Shortfall{
		Understaffed: r.Staff.Understaffed,
		Unvehicled:   r.Vehicle.Unvehicled || r.Vehicle.NoDriver,
	}
}

// Allocate runs staff then vehicle allocation against the instance's current
// attendance.
func (a *Allocator) Allocate(ctx context.Context, tx *store.Tx, inst model.Instance) (Result, error) {
	res := Result{InstanceID: inst.ID}
	var err error
	if res.Staff, err = a.AssignStaff(ctx, tx, inst); err != nil {
		return res, err
	}
	if res.Vehicle, err = a.AssignVehicle(ctx, tx, inst); err != nil {
		return res, err
	}
	return res, nil
}

// AllocateAll refreshes participants from the rule's enrolments, then staff
// and vehicles.
func (a *Allocator) AllocateAll(ctx context.Context, tx *store.Tx, inst model.Instance, rule model.Rule) (Result, error) {
	parts, err := a.AllocateParticipants(ctx, tx, inst, rule)
	if err != nil {
		return Result{InstanceID: inst.ID}, err
	}
	res, err := a.Allocate(ctx, tx, inst)
	res.Participants = parts
	return res, err
}

var attendancePolicy = reconcile.Policy[model.Attendance]{
	SameShape: func(existing, projected model.Attendance) bool {
		return existing.Status == projected.Status && existing.SourceRuleID == projected.SourceRuleID
	},
	Adopt: func(existing, projected model.Attendance) model.Attendance {
		projected.ID = existing.ID
		return projected
	},
}

// AllocateParticipants gives every active enrolled participant a confirmed
// attendance row. Rows for participants no longer enrolled are removed
// unless overridden.
func (a *Allocator) AllocateParticipants(ctx context.Context, tx *store.Tx, inst model.Instance, rule model.Rule) (ParticipantResult, error) {
	participants, err := tx.Participants(ctx, rule.Enrolments)
	if err != nil {
		return ParticipantResult{}, err
	}

	var desired []model.Attendance
	for _, pid := range rule.Enrolments {
		p, ok := participants[pid]
		if !ok || !p.Active {
			continue
		}
		desired = append(desired, model.Attendance{
			ID:            a.ids.NewID(),
			InstanceID:    inst.ID,
			ParticipantID: pid,
			SourceRuleID:  inst.SourceRuleID,
			Status:        model.AttendanceConfirmed,
		})
	}

	existing, err := tx.Attendance(ctx, inst.ID)
	if err != nil {
		return ParticipantResult{}, err
	}

	plan := attendancePolicy.ReconcileSet(existing, desired,
		func(r model.Attendance) string { return r.ParticipantID },
		func(r model.Attendance) bool { return r.IsOverridden })

	for _, row := range plan.Delete {
		if err := tx.DeleteAttendance(ctx, row.ID); err != nil {
			return ParticipantResult{}, err
		}
	}
	for _, row := range plan.Update {
		if err := tx.UpdateAttendance(ctx, row); err != nil {
			return ParticipantResult{}, err
		}
	}
	for _, row := range plan.Insert {
		if err := tx.InsertAttendance(ctx, row); err != nil {
			return ParticipantResult{}, err
		}
	}

	return ParticipantResult{Enrolled: len(desired), Changes: changes(plan)}, nil
}

var shiftPolicy = reconcile.Policy[model.StaffAssignment]{
	SameShape: func(existing, projected model.StaffAssignment) bool {
		return existing.Role == projected.Role && existing.Status == projected.Status &&
			existing.SourceRuleID == projected.SourceRuleID
	},
	Adopt: func(existing, projected model.StaffAssignment) model.StaffAssignment {
		projected.ID = existing.ID
		return projected
	},
}

// AssignStaff computes the required staff from the ratio table and the
// virtual participant count, then fills the gap left by overridden shifts
// from the ranked candidate list. Staff already on the instance keep their
// place while they remain eligible. The first assigned staff member leads
// unless an overridden active shift already does.
func (a *Allocator) AssignStaff(ctx context.Context, tx *store.Tx, inst model.Instance) (StaffResult, error) {
	attendance, err := tx.Attendance(ctx, inst.ID)
	if err != nil {
		return StaffResult{}, err
	}
	ids := make([]string, 0, len(attendance))
	for _, att := range attendance {
		ids = append(ids, att.ParticipantID)
	}
	participants, err := tx.Participants(ctx, ids)
	if err != nil {
		return StaffResult{}, err
	}
	table, err := tx.RatioTable(ctx, inst.RatioTableID)
	if err != nil {
		return StaffResult{}, fmt.Errorf("instance %s: %w", inst.ID, err)
	}

	res := StaffResult{VirtualCount: VirtualCount(attendance, participants)}
	res.RequiredStaff = RequiredStaff(table, res.VirtualCount)

	existing, err := tx.StaffAssignments(ctx, inst.ID)
	if err != nil {
		return StaffResult{}, err
	}

	pinned := make(map[string]bool)
	var incumbents []string
	fixedActive, leadTaken := 0, false
	for _, s := range existing {
		if s.IsOverridden {
			pinned[s.StaffID] = true
			if s.Active() {
				fixedActive++
				leadTaken = leadTaken || s.Role == model.RoleLead
			}
			continue
		}
		if s.Active() {
			incumbents = append(incumbents, s.StaffID)
		}
	}

	var chosen []string
	if need := res.RequiredStaff - fixedActive; need > 0 {
		periodStart, periodEnd := PayPeriod(a.cfg.PayPeriodAnchor, a.cfg.PayPeriodDays, inst.Date)
		candidates, err := tx.CandidateStaff(ctx, a.spanOf(inst), periodStart, periodEnd)
		if err != nil {
			return StaffResult{}, err
		}
		chosen = pickStaff(candidates, incumbents, pinned, need)
	}

	desired := make([]model.StaffAssignment, 0, len(chosen))
	for i, staffID := range chosen {
		role := model.RoleSupport
		if i == 0 && !leadTaken {
			role = model.RoleLead
		}
		desired = append(desired, model.StaffAssignment{
			ID:           a.ids.NewID(),
			InstanceID:   inst.ID,
			StaffID:      staffID,
			SourceRuleID: inst.SourceRuleID,
			Role:         role,
			Status:       model.ShiftAssigned,
		})
	}

	plan := shiftPolicy.ReconcileSet(existing, desired,
		func(s model.StaffAssignment) string { return s.StaffID },
		func(s model.StaffAssignment) bool { return s.IsOverridden })

	for _, row := range plan.Delete {
		if err := tx.DeleteStaffAssignment(ctx, row.ID); err != nil {
			return StaffResult{}, err
		}
	}
	for _, row := range plan.Update {
		if err := tx.UpdateStaffAssignment(ctx, row); err != nil {
			return StaffResult{}, err
		}
	}
	for _, row := range plan.Insert {
		if err := tx.InsertStaffAssignment(ctx, row); err != nil {
			return StaffResult{}, err
		}
	}

	res.ActiveStaff = fixedActive + len(chosen)
	res.Understaffed = res.ActiveStaff < res.RequiredStaff
	res.Changes = changes(plan)
	if res.Understaffed {
		a.log.Warnf("instance %s understaffed: %d of %d staff (virtual count %s)",
			inst.ID, res.ActiveStaff, res.RequiredStaff, res.VirtualCount)
	}
	return res, nil
}

// pickStaff takes up to need candidates, eligible incumbents first in their
// current order, then the rest in rank order.
func pickStaff(candidates []store.StaffCandidate, incumbents []string, pinned map[string]bool, need int) []string {
	eligible := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		eligible[c.Staff.ID] = true
	}

	var out []string
	taken := make(map[string]bool)
	for _, id := range incumbents {
		if len(out) == need {
			return out
		}
		if eligible[id] && !pinned[id] && !taken[id] {
			out = append(out, id)
			taken[id] = true
		}
	}
	for _, c := range candidates {
		if len(out) == need {
			break
		}
		if pinned[c.Staff.ID] || taken[c.Staff.ID] {
			continue
		}
		out = append(out, c.Staff.ID)
		taken[c.Staff.ID] = true
	}
	return out
}

// Replacement returns the best-ranked staff member who could cover inst and
// is not already on it. ok is false when nobody is free.
func (a *Allocator) Replacement(ctx context.Context, tx *store.Tx, inst model.Instance) (staffID string, ok bool, err error) {
	shifts, err := tx.StaffAssignments(ctx, inst.ID)
	if err != nil {
		return "", false, err
	}
	onShift := make(map[string]bool, len(shifts))
	for _, s := range shifts {
		onShift[s.StaffID] = true
	}

	periodStart, periodEnd := PayPeriod(a.cfg.PayPeriodAnchor, a.cfg.PayPeriodDays, inst.Date)
	candidates, err := tx.CandidateStaff(ctx, a.spanOf(inst), periodStart, periodEnd)
	if err != nil {
		return "", false, err
	}
	for _, c := range candidates {
		if !onShift[c.Staff.ID] {
			return c.Staff.ID, true, nil
		}
	}
	return "", false, nil
}

var vehiclePolicy = reconcile.Policy[model.VehicleAssignment]{
	SameShape: func(existing, projected model.VehicleAssignment) bool {
		return existing.VehicleID == projected.VehicleID &&
			existing.DriverStaffID == projected.DriverStaffID &&
			existing.RouteComputed == projected.RouteComputed &&
			existing.RouteScore == projected.RouteScore &&
			slices.Equal(existing.Stops, projected.Stops)
	},
	Adopt: func(existing, projected model.VehicleAssignment) model.VehicleAssignment {
		projected.ID = existing.ID
		return projected
	},
}

// AssignVehicle gives a transport instance the smallest free vehicle with a
// seat for every attendee plus the driver and picks a driver from the
// assigned staff. A new rider set is stored in attendee order; the routing
// provider is asked for the stop order only after tx commits, so the write
// lock is never held across the provider call. A routing failure keeps the
// vehicle and the attendee order.
func (a *Allocator) AssignVehicle(ctx context.Context, tx *store.Tx, inst model.Instance) (VehicleResult, error) {
	existing, err := tx.VehicleAssignment(ctx, inst.ID)
	if err != nil {
		return VehicleResult{}, err
	}
	res := VehicleResult{Required: inst.RequiresTransport}

	if existing != nil && existing.IsOverridden {
		res.Preserved = true
		res.VehicleID = existing.VehicleID
		res.DriverStaffID = existing.DriverStaffID
		res.RouteComputed = existing.RouteComputed
		res.NoDriver = inst.RequiresTransport && existing.DriverStaffID == ""
		return res, nil
	}
	if !inst.RequiresTransport {
		if existing != nil {
			if err := tx.DeleteVehicleAssignment(ctx, inst.ID); err != nil {
				return VehicleResult{}, err
			}
		}
		return res, nil
	}

	attendance, err := tx.Attendance(ctx, inst.ID)
	if err != nil {
		return VehicleResult{}, err
	}
	var riders []string
	for _, att := range attendance {
		if att.Status.Counts() {
			riders = append(riders, att.ParticipantID)
		}
	}
	res.RequiredSeats = len(riders) + 1

	candidates, err := tx.CandidateVehicles(ctx, a.spanOf(inst), res.RequiredSeats)
	if err != nil {
		return VehicleResult{}, err
	}
	if len(candidates) == 0 {
		if existing != nil {
			if err := tx.DeleteVehicleAssignment(ctx, inst.ID); err != nil {
				return VehicleResult{}, err
			}
		}
		res.Unvehicled = true
		a.log.Warnf("instance %s unvehicled: no free vehicle with %d seats", inst.ID, res.RequiredSeats)
		return res, nil
	}
	vehicle := pickVehicle(candidates, existing)

	driver, err := a.pickDriver(ctx, tx, inst.ID)
	if err != nil {
		return VehicleResult{}, err
	}

	projected := model.VehicleAssignment{
		ID:            a.ids.NewID(),
		InstanceID:    inst.ID,
		VehicleID:     vehicle.ID,
		DriverStaffID: driver,
	}
	if existing != nil && existing.VehicleID == vehicle.ID && existing.RouteComputed && sameMembers(existing.Stops, riders) {
		projected.Stops, projected.RouteScore, projected.RouteComputed = existing.Stops, existing.RouteScore, true
	} else {
		projected.Stops = append([]string{}, riders...)
	}

	out := vehiclePolicy.Reconcile(existing, projected, false)
	if out.Action == reconcile.Create || out.Action == reconcile.Replace {
		if err := tx.PutVehicleAssignment(ctx, out.Value); err != nil {
			return VehicleResult{}, err
		}
	}

	if !projected.RouteComputed && len(riders) > 0 {
		if _, off := a.router.(routing.Disabled); !off {
			req, err := a.routeRequest(ctx, tx, inst, vehicle.ID, riders)
			if err != nil {
				return VehicleResult{}, err
			}
			tx.AfterCommit(a.applyRoute(req, riders))
			res.RoutePending = true
		}
	}

	res.VehicleID = vehicle.ID
	res.DriverStaffID = driver
	res.RouteComputed = projected.RouteComputed
	res.NoDriver = driver == ""
	if res.NoDriver {
		a.log.Warnf("instance %s has vehicle %s but no assigned driver", inst.ID, vehicle.ID)
	}
	return res, nil
}

// pickVehicle keeps the current vehicle while it is among the smallest that
// fit; otherwise the first (smallest) candidate wins.
func pickVehicle(candidates []model.Vehicle, existing *model.VehicleAssignment) model.Vehicle {
	best := candidates[0]
	if existing == nil {
		return best
	}
	for _, v := range candidates {
		if v.Seats != best.Seats {
			break
		}
		if v.ID == existing.VehicleID {
			return v
		}
	}
	return best
}

// pickDriver returns the first active assigned staff member, LEAD first,
// who can drive.
func (a *Allocator) pickDriver(ctx context.Context, tx *store.Tx, instanceID string) (string, error) {
	shifts, err := tx.StaffAssignments(ctx, instanceID)
	if err != nil {
		return "", err
	}
	for _, s := range shifts {
		if !s.Active() {
			continue
		}
		staff, err := tx.StaffByID(ctx, s.StaffID)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if staff.CanDrive && staff.Active {
			return staff.ID, nil
		}
	}
	return "", nil
}

func (a *Allocator) routeRequest(ctx context.Context, tx *store.Tx, inst model.Instance, vehicleID string, riders []string) (routing.Request, error) {
	participants, err := tx.Participants(ctx, riders)
	if err != nil {
		return routing.Request{}, err
	}
	req := routing.Request{
		InstanceID: inst.ID,
		VehicleID:  vehicleID,
		DepartAt:   inst.StartsAt(a.cfg.Location),
	}
	for _, pid := range riders {
		req.Stops = append(req.Stops, routing.Stop{ParticipantID: pid, Address: participants[pid].Address})
	}
	return req, nil
}

// applyRoute returns a commit hook that asks the provider for a stop order
// and stores it in a transaction of its own. The route is dropped when the
// assignment changed in the meantime: another vehicle, another rider set,
// an operator override or a route already computed.
func (a *Allocator) applyRoute(req routing.Request, riders []string) func(context.Context, *store.Store) {
	return func(ctx context.Context, s *store.Store) {
		route, err := a.router.Route(ctx, req)
		if err != nil {
			a.log.Warnf("route for instance %s not computed: %v", req.InstanceID, err)
			return
		}
		err = s.InTx(ctx, func(tx *store.Tx) error {
			cur, err := tx.VehicleAssignment(ctx, req.InstanceID)
			if err != nil || cur == nil {
				return err
			}
			if cur.IsOverridden || cur.RouteComputed || cur.VehicleID != req.VehicleID || !sameMembers(cur.Stops, riders) {
				return nil
			}
			cur.Stops, cur.RouteScore, cur.RouteComputed = route.Stops, route.Score, true
			return tx.PutVehicleAssignment(ctx, *cur)
		})
		if err != nil {
			a.log.Errorf("store route for instance %s: %v", req.InstanceID, err)
		}
	}
}

func (a *Allocator) spanOf(inst model.Instance) store.Span {
	return store.Span{
		Date:              inst.Date,
		Start:             inst.Start,
		End:               inst.End,
		ExcludeInstanceID: inst.ID,
		Location:          a.cfg.Location,
	}
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

func changes[T any](plan reconcile.SetPlan[T]) RowChanges {
	return RowChanges{
		Inserted:  len(plan.Insert),
		Updated:   len(plan.Update),
		Deleted:   len(plan.Delete),
		Preserved: len(plan.Preserved),
	}
}
