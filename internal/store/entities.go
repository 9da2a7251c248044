package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/loom/internal/model"
)

// UpsertParticipant writes a participant record.
func (t *Tx) UpsertParticipant(ctx context.Context, p model.Participant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO participants (id, name, supervision_multiplier, address, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			supervision_multiplier = excluded.supervision_multiplier,
			address = excluded.address,
			active = excluded.active
	`, p.ID, p.Name, p.SupervisionMultiplier.String(), p.Address, p.Active)
	if err != nil {
		return fmt.Errorf("upsert participant %s: %w", p.ID, err)
	}
	return nil
}

// Participants returns the requested participants keyed by ID. Unknown IDs
// are absent from the map.
func (t *Tx) Participants(ctx context.Context, ids []string) (map[string]model.Participant, error) {
	out := make(map[string]model.Participant, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		p, err := t.Participant(ctx, id)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Participant returns one participant.
func (t *Tx) Participant(ctx context.Context, id string) (model.Participant, error) {
	var (
		p    model.Participant
		mult string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, supervision_multiplier, address, active FROM participants WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &mult, &p.Address, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Participant{}, model.NotFoundf("participant %s not found", id)
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("query participant %s: %w", id, err)
	}
	if p.SupervisionMultiplier, err = decimal.NewFromString(mult); err != nil {
		return model.Participant{}, fmt.Errorf("participant %s multiplier: %w", id, err)
	}
	return p, nil
}

// UpsertStaff writes a staff record.
func (t *Tx) UpsertStaff(ctx context.Context, s model.Staff) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO staff (id, name, can_drive, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			can_drive = excluded.can_drive,
			active = excluded.active
	`, s.ID, s.Name, s.CanDrive, s.Active)
	if err != nil {
		return fmt.Errorf("upsert staff %s: %w", s.ID, err)
	}
	return nil
}

// StaffByID returns one staff member.
func (t *Tx) StaffByID(ctx context.Context, id string) (model.Staff, error) {
	var s model.Staff
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, can_drive, active FROM staff WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.CanDrive, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Staff{}, model.NotFoundf("staff %s not found", id)
	}
	if err != nil {
		return model.Staff{}, fmt.Errorf("query staff %s: %w", id, err)
	}
	return s, nil
}

// ReplaceAvailability sets the weekly availability of one staff member.
func (t *Tx) ReplaceAvailability(ctx context.Context, staffID string, windows []model.StaffAvailability) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM staff_availability WHERE staff_id = ?`, staffID); err != nil {
		return fmt.Errorf("clear availability for %s: %w", staffID, err)
	}
	for _, w := range windows {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO staff_availability (staff_id, weekday, start_min, end_min) VALUES (?, ?, ?, ?)
		`, staffID, w.Weekday, int(w.Start), int(w.End))
		if err != nil {
			return fmt.Errorf("insert availability for %s: %w", staffID, err)
		}
	}
	return nil
}

// InsertStaffLeave blocks a staff member for a date. Repeating the same
// leave is a no-op.
func (t *Tx) InsertStaffLeave(ctx context.Context, l model.StaffLeave) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO staff_leave (staff_id, leave_date, reason) VALUES (?, ?, ?)
		ON CONFLICT(staff_id, leave_date) DO NOTHING
	`, l.StaffID, formatDate(l.Date), l.Reason)
	if err != nil {
		return fmt.Errorf("insert leave for %s: %w", l.StaffID, err)
	}
	return nil
}

// UpsertVehicle writes a vehicle record.
func (t *Tx) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO vehicles (id, name, seats, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			seats = excluded.seats,
			active = excluded.active
	`, v.ID, v.Name, v.Seats, v.Active)
	if err != nil {
		return fmt.Errorf("upsert vehicle %s: %w", v.ID, err)
	}
	return nil
}

// InsertBlackout takes a vehicle out of service for [Start, End). A second
// blackout with the same start replaces the first's end.
func (t *Tx) InsertBlackout(ctx context.Context, b model.VehicleBlackout) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO vehicle_blackouts (vehicle_id, start_at, end_at) VALUES (?, ?, ?)
		ON CONFLICT(vehicle_id, start_at) DO UPDATE SET end_at = excluded.end_at
	`, b.VehicleID, formatTime(b.Start), formatTime(b.End))
	if err != nil {
		return fmt.Errorf("insert blackout for %s: %w", b.VehicleID, err)
	}
	return nil
}

// UpsertRate writes a rate definition keyed by (code, effective_from).
func (t *Tx) UpsertRate(ctx context.Context, r model.Rate) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rates (code, unit, unit_price, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code, effective_from) DO UPDATE SET
			unit = excluded.unit,
			unit_price = excluded.unit_price,
			effective_to = excluded.effective_to
	`, r.Code, string(r.Unit), r.UnitPrice.String(), formatDate(r.EffectiveFrom), nullDate(r.EffectiveTo))
	if err != nil {
		return fmt.Errorf("upsert rate %s: %w", r.Code, err)
	}
	return nil
}

// RateFor returns the rate for code in effect on date. When several
// definitions overlap, the most recently effective one wins.
func (t *Tx) RateFor(ctx context.Context, code string, date time.Time) (model.Rate, error) {
	var (
		r          model.Rate
		unit, from string
		price      string
		to         sql.NullString
	)
	d := formatDate(date)
	err := t.tx.QueryRowContext(ctx, `
		SELECT code, unit, unit_price, effective_from, effective_to
		FROM rates
		WHERE code = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)
		ORDER BY effective_from DESC
		LIMIT 1
	`, code, d, d).Scan(&r.Code, &unit, &price, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rate{}, model.NotFoundf("no rate %s effective on %s", code, d)
	}
	if err != nil {
		return model.Rate{}, fmt.Errorf("query rate %s: %w", code, err)
	}

	r.Unit = model.RateUnit(unit)
	if r.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return model.Rate{}, fmt.Errorf("rate %s price: %w", code, err)
	}
	if r.EffectiveFrom, err = parseDate(from); err != nil {
		return model.Rate{}, err
	}
	if r.EffectiveTo, err = scanNullDate(to); err != nil {
		return model.Rate{}, err
	}
	return r, nil
}
