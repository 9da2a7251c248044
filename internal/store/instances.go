package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/loom/internal/model"
)

const instanceColumns = `id, source_rule_id, instance_date, start_min, end_min, venue_id,
	requires_transport, ratio_table_id, rate_code, slots, projection_hash, projected_at,
	is_overridden, quality_audit_flag, created_at, updated_at`

func scanInstance(sc interface{ Scan(...any) error }) (model.Instance, error) {
	var (
		inst                                     model.Instance
		date, slots, projected, created, updated string
		start, end                               int
	)
	if err := sc.Scan(&inst.ID, &inst.SourceRuleID, &date, &start, &end, &inst.VenueID,
		&inst.RequiresTransport, &inst.RatioTableID, &inst.RateCode, &slots, &inst.ProjectionHash,
		&projected, &inst.IsOverridden, &inst.QualityAuditFlag, &created, &updated); err != nil {
		return model.Instance{}, err
	}
	inst.Start = model.TimeOfDay(start)
	inst.End = model.TimeOfDay(end)

	var err error
	if inst.Date, err = parseDate(date); err != nil {
		return model.Instance{}, err
	}
	if inst.Slots, err = unmarshalColumn[model.Slot](slots); err != nil {
		return model.Instance{}, err
	}
	if inst.ProjectedAt, err = parseTime(projected); err != nil {
		return model.Instance{}, err
	}
	if inst.CreatedAt, err = parseTime(created); err != nil {
		return model.Instance{}, err
	}
	if inst.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Instance{}, err
	}
	return inst, nil
}

func (t *Tx) queryInstances(ctx context.Context, query string, args ...any) ([]model.Instance, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var out []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// InsertInstance creates a new instance. A second instance for the same
// (rule, date) fails with a unique violation.
func (t *Tx) InsertInstance(ctx context.Context, inst model.Instance) error {
	slots, err := marshalColumn(inst.Slots)
	if err != nil {
		return fmt.Errorf("insert instance %s: %w", inst.ID, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.SourceRuleID, formatDate(inst.Date), int(inst.Start), int(inst.End), inst.VenueID,
		inst.RequiresTransport, inst.RatioTableID, inst.RateCode, slots, inst.ProjectionHash,
		formatTime(inst.ProjectedAt), inst.IsOverridden, inst.QualityAuditFlag,
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert instance %s: %w", inst.ID, err)
	}
	return nil
}

// UpdateInstance rewrites every mutable field of an existing instance.
// Identity, rule and date never change.
func (t *Tx) UpdateInstance(ctx context.Context, inst model.Instance) error {
	slots, err := marshalColumn(inst.Slots)
	if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE instances SET
			start_min = ?, end_min = ?, venue_id = ?, requires_transport = ?,
			ratio_table_id = ?, rate_code = ?, slots = ?, projection_hash = ?,
			projected_at = ?, is_overridden = ?, quality_audit_flag = ?, updated_at = ?
		WHERE id = ?
	`, int(inst.Start), int(inst.End), inst.VenueID, inst.RequiresTransport,
		inst.RatioTableID, inst.RateCode, slots, inst.ProjectionHash,
		formatTime(inst.ProjectedAt), inst.IsOverridden, inst.QualityAuditFlag, formatTime(inst.UpdatedAt),
		inst.ID)
	if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	return expectOne(res, "instance", inst.ID)
}

// TouchInstance records a projection pass without changing any operator
// visible field.
func (t *Tx) TouchInstance(ctx context.Context, id, hash string, projectedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE instances SET projection_hash = ?, projected_at = ? WHERE id = ?
	`, hash, formatTime(projectedAt), id)
	if err != nil {
		return fmt.Errorf("touch instance %s: %w", id, err)
	}
	return expectOne(res, "instance", id)
}

// InstanceByID returns an instance without its child rows.
func (t *Tx) InstanceByID(ctx context.Context, id string) (model.Instance, error) {
	inst, err := scanInstance(t.tx.QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM instances WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instance{}, model.NotFoundf("instance %s not found", id)
	}
	if err != nil {
		return model.Instance{}, fmt.Errorf("query instance %s: %w", id, err)
	}
	return inst, nil
}

// InstanceByRuleDate looks up the instance for (ruleID, date).
// Returns (nil, nil) when none exists.
func (t *Tx) InstanceByRuleDate(ctx context.Context, ruleID string, date time.Time) (*model.Instance, error) {
	insts, err := t.queryInstances(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE source_rule_id = ? AND instance_date = ?
		ORDER BY id ASC
	`, ruleID, formatDate(date))
	if err != nil {
		return nil, err
	}
	switch len(insts) {
	case 0:
		return nil, nil
	case 1:
		return &insts[0], nil
	default:
		return nil, model.NewConsistencyError(
			fmt.Sprintf("%d instances for rule %s on %s", len(insts), ruleID, formatDate(date)), nil)
	}
}

// InstancesBetween returns instances dated in [start, end) ordered by date,
// start time and ID. Child rows are not loaded.
func (t *Tx) InstancesBetween(ctx context.Context, start, end time.Time) ([]model.Instance, error) {
	return t.queryInstances(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE instance_date >= ? AND instance_date < ?
		ORDER BY instance_date ASC, start_min ASC, id ASC
	`, formatDate(start), formatDate(end))
}

// InstancesBefore returns instances dated strictly before cutoff.
func (t *Tx) InstancesBefore(ctx context.Context, cutoff time.Time) ([]model.Instance, error) {
	return t.queryInstances(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE instance_date < ?
		ORDER BY instance_date ASC, start_min ASC, id ASC
	`, formatDate(cutoff))
}

// LoadDetails fills the child rows of inst.
func (t *Tx) LoadDetails(ctx context.Context, inst *model.Instance) error {
	var err error
	if inst.Attendance, err = t.Attendance(ctx, inst.ID); err != nil {
		return err
	}
	if inst.Staff, err = t.StaffAssignments(ctx, inst.ID); err != nil {
		return err
	}
	if inst.Vehicle, err = t.VehicleAssignment(ctx, inst.ID); err != nil {
		return err
	}
	return nil
}

// DeleteInstance removes a live instance; its child rows cascade.
func (t *Tx) DeleteInstance(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return expectOne(res, "instance", id)
}

// notOverridden matches instances that neither carry the override flag
// themselves nor own an overridden child row.
const notOverridden = `
	is_overridden = 0
	AND NOT EXISTS (SELECT 1 FROM attendance a WHERE a.instance_id = instances.id AND a.is_overridden = 1)
	AND NOT EXISTS (SELECT 1 FROM staff_assignments s WHERE s.instance_id = instances.id AND s.is_overridden = 1)
	AND NOT EXISTS (SELECT 1 FROM vehicle_assignments v WHERE v.instance_id = instances.id AND v.is_overridden = 1)`

// ClearProjected deletes every instance in [start, end) that carries no
// operator edit. Used by full rebuilds.
func (t *Tx) ClearProjected(ctx context.Context, start, end time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM instances
		WHERE instance_date >= ? AND instance_date < ? AND`+notOverridden,
		formatDate(start), formatDate(end))
	if err != nil {
		return 0, fmt.Errorf("clear projected instances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear projected instances: %w", err)
	}
	return int(n), nil
}

// ClearProjectedFrom deletes unedited instances dated on or after from.
// Used when the window shrinks.
func (t *Tx) ClearProjectedFrom(ctx context.Context, from time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM instances WHERE instance_date >= ? AND`+notOverridden,
		formatDate(from))
	if err != nil {
		return 0, fmt.Errorf("clear instances from %s: %w", formatDate(from), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear instances from %s: %w", formatDate(from), err)
	}
	return int(n), nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", kind, id, err)
	}
	if n == 0 {
		return model.NotFoundf("%s %s not found", kind, id)
	}
	return nil
}
