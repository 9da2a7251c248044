package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/loom/internal/model"
)

// InsertHistory writes a history ledger entry. Entries are never updated.
func (t *Tx) InsertHistory(ctx context.Context, h model.HistoryEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO history_instances
			(id, instance_id, source_rule_id, instance_date, start_min, end_min, venue_id, snapshot,
			 attendance_count, attended_count, staff_count, vehicle_count, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.InstanceID, h.SourceRuleID, formatDate(h.Date), int(h.Start), int(h.End), h.VenueID,
		string(h.Snapshot), h.AttendanceCount, h.AttendedCount, h.StaffCount, h.VehicleCount,
		formatTime(h.ArchivedAt))
	if err != nil {
		return fmt.Errorf("insert history %s: %w", h.ID, err)
	}
	return nil
}

// InsertHistoryAttendance copies a live attendance row under a history entry.
func (t *Tx) InsertHistoryAttendance(ctx context.Context, historyID string, a model.Attendance) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO history_attendance
			(id, history_id, participant_id, status, cancellation_type, billing_impact, hours_notice)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, historyID, a.ParticipantID, string(a.Status), string(a.CancellationType),
		a.BillingImpact, nullFloat(a.HoursNotice))
	if err != nil {
		return fmt.Errorf("insert history attendance %s: %w", a.ID, err)
	}
	return nil
}

// InsertHistoryStaff copies a live shift under a history entry. The shift's
// time is kept so archived hours still count toward pay-period load.
func (t *Tx) InsertHistoryStaff(ctx context.Context, historyID string, inst model.Instance, s model.StaffAssignment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO history_staff
			(id, history_id, staff_id, role, status, instance_date, start_min, end_min)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, historyID, s.StaffID, string(s.Role), string(s.Status),
		formatDate(inst.Date), int(inst.Start), int(inst.End))
	if err != nil {
		return fmt.Errorf("insert history shift %s: %w", s.ID, err)
	}
	return nil
}

const historyColumns = `id, instance_id, source_rule_id, instance_date, start_min, end_min, venue_id,
	snapshot, attendance_count, attended_count, staff_count, vehicle_count, archived_at`

func scanHistory(sc interface{ Scan(...any) error }) (model.HistoryEntry, error) {
	var (
		h                        model.HistoryEntry
		date, snapshot, archived string
		start, end               int
	)
	if err := sc.Scan(&h.ID, &h.InstanceID, &h.SourceRuleID, &date, &start, &end, &h.VenueID,
		&snapshot, &h.AttendanceCount, &h.AttendedCount, &h.StaffCount, &h.VehicleCount, &archived); err != nil {
		return model.HistoryEntry{}, err
	}
	h.Start = model.TimeOfDay(start)
	h.End = model.TimeOfDay(end)
	h.Snapshot = []byte(snapshot)

	var err error
	if h.Date, err = parseDate(date); err != nil {
		return model.HistoryEntry{}, err
	}
	if h.ArchivedAt, err = parseTime(archived); err != nil {
		return model.HistoryEntry{}, err
	}
	return h, nil
}

// HistoryBetween returns ledger entries dated in [start, end).
func (t *Tx) HistoryBetween(ctx context.Context, start, end time.Time) ([]model.HistoryEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM history_instances
		WHERE instance_date >= ? AND instance_date < ?
		ORDER BY instance_date ASC, start_min ASC, id ASC
	`, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// HistoryForInstance returns the ledger entry created when instanceID was
// archived.
func (t *Tx) HistoryForInstance(ctx context.Context, instanceID string) (model.HistoryEntry, error) {
	h, err := scanHistory(t.tx.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM history_instances WHERE instance_id = ?
	`, instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryEntry{}, model.NotFoundf("no history for instance %s", instanceID)
	}
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("query history for %s: %w", instanceID, err)
	}
	return h, nil
}

// InsertPayment writes a payment diamond. One diamond exists per attendance.
func (t *Tx) InsertPayment(ctx context.Context, p model.PaymentDiamond) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_diamonds
			(id, history_id, attendance_id, participant_id, rate_code, units, unit_price, amount,
			 reason, status, created_at, billed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.HistoryID, p.AttendanceID, p.ParticipantID, p.RateCode,
		p.Units.String(), p.UnitPrice.String(), p.Amount.String(),
		string(p.Reason), string(p.Status), formatTime(p.CreatedAt), nullTime(p.BilledAt))
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

const paymentColumns = `id, history_id, attendance_id, participant_id, rate_code, units, unit_price,
	amount, reason, status, created_at, billed_at`

func scanPayment(sc interface{ Scan(...any) error }) (model.PaymentDiamond, error) {
	var (
		p                     model.PaymentDiamond
		reason, status, stamp string
		billed                sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.HistoryID, &p.AttendanceID, &p.ParticipantID, &p.RateCode,
		&p.Units, &p.UnitPrice, &p.Amount, &reason, &status, &stamp, &billed); err != nil {
		return model.PaymentDiamond{}, err
	}
	p.Reason = model.PaymentReason(reason)
	p.Status = model.PaymentStatus(status)

	var err error
	if p.CreatedAt, err = parseTime(stamp); err != nil {
		return model.PaymentDiamond{}, err
	}
	if p.BilledAt, err = scanNullTime(billed); err != nil {
		return model.PaymentDiamond{}, err
	}
	return p, nil
}

// Payments lists payment diamonds, optionally filtered by status, oldest
// first.
func (t *Tx) Payments(ctx context.Context, status model.PaymentStatus) ([]model.PaymentDiamond, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_diamonds`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []model.PaymentDiamond
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

// PaymentByID returns one payment diamond.
func (t *Tx) PaymentByID(ctx context.Context, id string) (model.PaymentDiamond, error) {
	p, err := scanPayment(t.tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_diamonds WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PaymentDiamond{}, model.NotFoundf("payment %s not found", id)
	}
	if err != nil {
		return model.PaymentDiamond{}, fmt.Errorf("query payment %s: %w", id, err)
	}
	return p, nil
}

// MarkBilled moves a pending diamond to billed. It is the only mutation a
// diamond allows; billing an already billed diamond is a validation error.
func (t *Tx) MarkBilled(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payment_diamonds SET status = 'billed', billed_at = ?
		WHERE id = ? AND status = 'pending'
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark payment %s billed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark payment %s billed: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	p, err := t.PaymentByID(ctx, id)
	if err != nil {
		return err
	}
	return model.Validationf("payment %s is %s, only pending payments can be billed", id, p.Status)
}
