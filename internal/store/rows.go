package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/loom/internal/model"
)

const attendanceColumns = `id, instance_id, participant_id, source_rule_id, status, is_overridden,
	cancellation_type, billing_impact, hours_notice, cancelled_at`

func scanAttendance(sc interface{ Scan(...any) error }) (model.Attendance, error) {
	var (
		a             model.Attendance
		status, ctype string
		hours         sql.NullFloat64
		cancelledAt   sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.InstanceID, &a.ParticipantID, &a.SourceRuleID, &status,
		&a.IsOverridden, &ctype, &a.BillingImpact, &hours, &cancelledAt); err != nil {
		return model.Attendance{}, err
	}
	a.Status = model.AttendanceStatus(status)
	a.CancellationType = model.CancellationType(ctype)
	a.HoursNotice = scanNullFloat(hours)

	var err error
	if a.CancelledAt, err = scanNullTime(cancelledAt); err != nil {
		return model.Attendance{}, err
	}
	return a, nil
}

// Attendance returns the attendance rows of an instance ordered by
// participant and ID.
func (t *Tx) Attendance(ctx context.Context, instanceID string) ([]model.Attendance, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE instance_id = ?
		ORDER BY participant_id ASC, id ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query attendance for %s: %w", instanceID, err)
	}
	defer rows.Close()

	var out []model.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}

// AttendanceByID returns one attendance row.
func (t *Tx) AttendanceByID(ctx context.Context, id string) (model.Attendance, error) {
	a, err := scanAttendance(t.tx.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attendance{}, model.NotFoundf("attendance %s not found", id)
	}
	if err != nil {
		return model.Attendance{}, fmt.Errorf("query attendance %s: %w", id, err)
	}
	return a, nil
}

// InsertAttendance creates an attendance row.
func (t *Tx) InsertAttendance(ctx context.Context, a model.Attendance) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO attendance (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.InstanceID, a.ParticipantID, a.SourceRuleID, string(a.Status), a.IsOverridden,
		string(a.CancellationType), a.BillingImpact, nullFloat(a.HoursNotice), nullTime(a.CancelledAt))
	if err != nil {
		return fmt.Errorf("insert attendance %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAttendance rewrites the mutable fields of an attendance row.
func (t *Tx) UpdateAttendance(ctx context.Context, a model.Attendance) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE attendance SET
			status = ?, is_overridden = ?, cancellation_type = ?, billing_impact = ?,
			hours_notice = ?, cancelled_at = ?
		WHERE id = ?
	`, string(a.Status), a.IsOverridden, string(a.CancellationType), a.BillingImpact,
		nullFloat(a.HoursNotice), nullTime(a.CancelledAt), a.ID)
	if err != nil {
		return fmt.Errorf("update attendance %s: %w", a.ID, err)
	}
	return expectOne(res, "attendance", a.ID)
}

// DeleteAttendance removes an attendance row.
func (t *Tx) DeleteAttendance(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM attendance WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attendance %s: %w", id, err)
	}
	return expectOne(res, "attendance", id)
}

const staffAssignmentColumns = `id, instance_id, staff_id, source_rule_id, role, status,
	is_overridden, needs_attention, substitute_for`

func scanStaffAssignment(sc interface{ Scan(...any) error }) (model.StaffAssignment, error) {
	var (
		s            model.StaffAssignment
		role, status string
	)
	if err := sc.Scan(&s.ID, &s.InstanceID, &s.StaffID, &s.SourceRuleID, &role, &status,
		&s.IsOverridden, &s.NeedsAttention, &s.SubstituteFor); err != nil {
		return model.StaffAssignment{}, err
	}
	s.Role = model.StaffRole(role)
	s.Status = model.ShiftStatus(status)
	return s, nil
}

// StaffAssignments returns the shifts of an instance, LEAD first, then by
// staff and ID.
func (t *Tx) StaffAssignments(ctx context.Context, instanceID string) ([]model.StaffAssignment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+staffAssignmentColumns+` FROM staff_assignments
		WHERE instance_id = ?
		ORDER BY CASE role WHEN 'LEAD' THEN 0 ELSE 1 END ASC, staff_id ASC, id ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query shifts for %s: %w", instanceID, err)
	}
	defer rows.Close()

	var out []model.StaffAssignment
	for rows.Next() {
		s, err := scanStaffAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shifts: %w", err)
	}
	return out, nil
}

// StaffAssignmentByID returns one shift.
func (t *Tx) StaffAssignmentByID(ctx context.Context, id string) (model.StaffAssignment, error) {
	s, err := scanStaffAssignment(t.tx.QueryRowContext(ctx, `
		SELECT `+staffAssignmentColumns+` FROM staff_assignments WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StaffAssignment{}, model.NotFoundf("shift %s not found", id)
	}
	if err != nil {
		return model.StaffAssignment{}, fmt.Errorf("query shift %s: %w", id, err)
	}
	return s, nil
}

// InsertStaffAssignment creates a shift.
func (t *Tx) InsertStaffAssignment(ctx context.Context, s model.StaffAssignment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO staff_assignments (`+staffAssignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.InstanceID, s.StaffID, s.SourceRuleID, string(s.Role), string(s.Status),
		s.IsOverridden, s.NeedsAttention, s.SubstituteFor)
	if err != nil {
		return fmt.Errorf("insert shift %s: %w", s.ID, err)
	}
	return nil
}

// UpdateStaffAssignment rewrites the mutable fields of a shift.
func (t *Tx) UpdateStaffAssignment(ctx context.Context, s model.StaffAssignment) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE staff_assignments SET
			role = ?, status = ?, is_overridden = ?, needs_attention = ?, substitute_for = ?
		WHERE id = ?
	`, string(s.Role), string(s.Status), s.IsOverridden, s.NeedsAttention, s.SubstituteFor, s.ID)
	if err != nil {
		return fmt.Errorf("update shift %s: %w", s.ID, err)
	}
	return expectOne(res, "shift", s.ID)
}

// DeleteStaffAssignment removes a shift.
func (t *Tx) DeleteStaffAssignment(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM staff_assignments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete shift %s: %w", id, err)
	}
	return expectOne(res, "shift", id)
}

// VehicleAssignment returns the vehicle assignment of an instance, or nil.
func (t *Tx) VehicleAssignment(ctx context.Context, instanceID string) (*model.VehicleAssignment, error) {
	var (
		v     model.VehicleAssignment
		stops string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, instance_id, vehicle_id, driver_staff_id, stops, route_computed, route_score, is_overridden
		FROM vehicle_assignments WHERE instance_id = ?
	`, instanceID).Scan(&v.ID, &v.InstanceID, &v.VehicleID, &v.DriverStaffID, &stops,
		&v.RouteComputed, &v.RouteScore, &v.IsOverridden)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vehicle assignment for %s: %w", instanceID, err)
	}
	if v.Stops, err = unmarshalColumn[string](stops); err != nil {
		return nil, fmt.Errorf("vehicle assignment %s: %w", v.ID, err)
	}
	return &v, nil
}

// PutVehicleAssignment inserts or replaces the single vehicle assignment of
// an instance.
func (t *Tx) PutVehicleAssignment(ctx context.Context, v model.VehicleAssignment) error {
	stops, err := marshalColumn(v.Stops)
	if err != nil {
		return fmt.Errorf("put vehicle assignment %s: %w", v.ID, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO vehicle_assignments
			(id, instance_id, vehicle_id, driver_staff_id, stops, route_computed, route_score, is_overridden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			vehicle_id = excluded.vehicle_id,
			driver_staff_id = excluded.driver_staff_id,
			stops = excluded.stops,
			route_computed = excluded.route_computed,
			route_score = excluded.route_score,
			is_overridden = excluded.is_overridden
	`, v.ID, v.InstanceID, v.VehicleID, v.DriverStaffID, stops, v.RouteComputed, v.RouteScore, v.IsOverridden)
	if err != nil {
		return fmt.Errorf("put vehicle assignment %s: %w", v.ID, err)
	}
	return nil
}

// DeleteVehicleAssignment removes the vehicle assignment of an instance.
func (t *Tx) DeleteVehicleAssignment(ctx context.Context, instanceID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM vehicle_assignments WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("delete vehicle assignment for %s: %w", instanceID, err)
	}
	return nil
}
