package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/loom/internal/model"
)

// Span identifies the time an instance occupies. ExcludeInstanceID is the
// instance being allocated; its own assignments never count as conflicts.
type Span struct {
	Date              time.Time
	Start             model.TimeOfDay
	End               model.TimeOfDay
	ExcludeInstanceID string

	// Location resolves Start and End to instants for blackout checks.
	// Nil means UTC.
	Location *time.Location
}

// StaffCandidate is an available staff member with the hours already
// allocated to them in the current pay period.
type StaffCandidate struct {
	Staff          model.Staff
	AllocatedHours float64
}

// CandidateStaff returns active staff who are available for the whole span,
// not on leave that day, and not on an active shift that overlaps it.
// Candidates are ranked by ascending allocated hours in [periodStart,
// periodEnd), counting live shifts and archived history, then by ID.
func (t *Tx) CandidateStaff(ctx context.Context, span Span, periodStart, periodEnd time.Time) ([]StaffCandidate, error) {
	date := formatDate(span.Date)
	ps, pe := formatDate(periodStart), formatDate(periodEnd)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT s.id, s.name, s.can_drive, s.active,
			COALESCE((
				SELECT SUM(i.end_min - i.start_min)
				FROM staff_assignments sa JOIN instances i ON i.id = sa.instance_id
				WHERE sa.staff_id = s.id AND sa.status = 'assigned' AND i.id != ?
					AND i.instance_date >= ? AND i.instance_date < ?
			), 0) + COALESCE((
				SELECT SUM(h.end_min - h.start_min)
				FROM history_staff h
				WHERE h.staff_id = s.id AND h.status = 'assigned'
					AND h.instance_date >= ? AND h.instance_date < ?
			), 0) AS allocated_minutes
		FROM staff s
		WHERE s.active = 1
			AND EXISTS (
				SELECT 1 FROM staff_availability a
				WHERE a.staff_id = s.id AND a.weekday = ? AND a.start_min <= ? AND a.end_min >= ?
			)
			AND NOT EXISTS (
				SELECT 1 FROM staff_leave l WHERE l.staff_id = s.id AND l.leave_date = ?
			)
			AND NOT EXISTS (
				SELECT 1 FROM staff_assignments sa JOIN instances i ON i.id = sa.instance_id
				WHERE sa.staff_id = s.id AND sa.status = 'assigned' AND i.id != ?
					AND i.instance_date = ? AND i.start_min < ? AND i.end_min > ?
			)
		ORDER BY allocated_minutes ASC, s.id ASC
	`,
		span.ExcludeInstanceID, ps, pe,
		ps, pe,
		model.WeekdayName(span.Date.Weekday()), int(span.Start), int(span.End),
		date,
		span.ExcludeInstanceID, date, int(span.End), int(span.Start),
	)
	if err != nil {
		return nil, fmt.Errorf("query candidate staff: %w", err)
	}
	defer rows.Close()

	var out []StaffCandidate
	for rows.Next() {
		var (
			c       StaffCandidate
			minutes int64
		)
		if err := rows.Scan(&c.Staff.ID, &c.Staff.Name, &c.Staff.CanDrive, &c.Staff.Active, &minutes); err != nil {
			return nil, fmt.Errorf("scan candidate staff: %w", err)
		}
		c.AllocatedHours = float64(minutes) / 60
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate staff: %w", err)
	}
	return out, nil
}

// CandidateVehicles returns active vehicles with at least minSeats seats,
// outside any blackout and not assigned to an overlapping instance.
// Smallest vehicles come first, then by ID.
func (t *Tx) CandidateVehicles(ctx context.Context, span Span, minSeats int) ([]model.Vehicle, error) {
	date := formatDate(span.Date)
	startsAt := formatTime(span.Start.At(span.Date, span.Location))
	endsAt := formatTime(span.End.At(span.Date, span.Location))

	rows, err := t.tx.QueryContext(ctx, `
		SELECT v.id, v.name, v.seats, v.active
		FROM vehicles v
		WHERE v.active = 1 AND v.seats >= ?
			AND NOT EXISTS (
				SELECT 1 FROM vehicle_blackouts b
				WHERE b.vehicle_id = v.id AND b.start_at < ? AND b.end_at > ?
			)
			AND NOT EXISTS (
				SELECT 1 FROM vehicle_assignments va JOIN instances i ON i.id = va.instance_id
				WHERE va.vehicle_id = v.id AND i.id != ?
					AND i.instance_date = ? AND i.start_min < ? AND i.end_min > ?
			)
		ORDER BY v.seats ASC, v.id ASC
	`, minSeats, endsAt, startsAt, span.ExcludeInstanceID, date, int(span.End), int(span.Start))
	if err != nil {
		return nil, fmt.Errorf("query candidate vehicles: %w", err)
	}
	defer rows.Close()

	var out []model.Vehicle
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.Seats, &v.Active); err != nil {
			return nil, fmt.Errorf("scan candidate vehicle: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate vehicles: %w", err)
	}
	return out, nil
}
