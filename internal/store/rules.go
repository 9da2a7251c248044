package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/loom/internal/model"
)

// UpsertRule writes a rule and replaces its enrolments.
func (t *Tx) UpsertRule(ctx context.Context, r model.Rule) error {
	weekdays, err := marshalColumn(r.Weekdays)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.ID, err)
	}
	slots, err := marshalColumn(r.Slots)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.ID, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO rules (id, name, weekdays, recurring, slots, venue_id, ratio_table_id, rate_code, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			weekdays = excluded.weekdays,
			recurring = excluded.recurring,
			slots = excluded.slots,
			venue_id = excluded.venue_id,
			ratio_table_id = excluded.ratio_table_id,
			rate_code = excluded.rate_code,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, weekdays, r.Recurring, slots, r.VenueID, r.RatioTableID, r.RateCode, r.Active, formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", r.ID, err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM rule_enrolments WHERE rule_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear enrolments for %s: %w", r.ID, err)
	}
	for _, pid := range r.Enrolments {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO rule_enrolments (rule_id, participant_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, r.ID, pid)
		if err != nil {
			return fmt.Errorf("enrol %s in %s: %w", pid, r.ID, err)
		}
	}
	return nil
}

const ruleColumns = `id, name, weekdays, recurring, slots, venue_id, ratio_table_id, rate_code, active, updated_at`

func scanRule(sc interface{ Scan(...any) error }) (model.Rule, error) {
	var (
		r                        model.Rule
		weekdays, slots, updated string
	)
	if err := sc.Scan(&r.ID, &r.Name, &weekdays, &r.Recurring, &slots, &r.VenueID,
		&r.RatioTableID, &r.RateCode, &r.Active, &updated); err != nil {
		return model.Rule{}, err
	}
	var err error
	if r.Weekdays, err = unmarshalColumn[string](weekdays); err != nil {
		return model.Rule{}, err
	}
	if r.Slots, err = unmarshalColumn[model.Slot](slots); err != nil {
		return model.Rule{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Rule{}, err
	}
	return r, nil
}

// ActiveRules returns every active rule with its enrolments, ordered by ID.
func (t *Tx) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE active = 1 ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}

	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	rows.Close()

	enrolments, err := t.enrolments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].Enrolments = enrolments[rules[i].ID]
	}
	return rules, nil
}

// Rule returns one rule by ID, active or not.
func (t *Tx) Rule(ctx context.Context, id string) (model.Rule, error) {
	r, err := scanRule(t.tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, model.NotFoundf("rule %s not found", id)
	}
	if err != nil {
		return model.Rule{}, fmt.Errorf("query rule %s: %w", id, err)
	}

	enrolments, err := t.enrolments(ctx)
	if err != nil {
		return model.Rule{}, err
	}
	r.Enrolments = enrolments[id]
	return r, nil
}

func (t *Tx) enrolments(ctx context.Context) (map[string][]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT rule_id, participant_id FROM rule_enrolments
		ORDER BY rule_id ASC, participant_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrolments: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var ruleID, pid string
		if err := rows.Scan(&ruleID, &pid); err != nil {
			return nil, fmt.Errorf("scan enrolment: %w", err)
		}
		out[ruleID] = append(out[ruleID], pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrolments: %w", err)
	}
	return out, nil
}

// UpsertRatioTable writes a ratio table.
func (t *Tx) UpsertRatioTable(ctx context.Context, rt model.RatioTable) error {
	brackets, err := marshalColumn(rt.Brackets)
	if err != nil {
		return fmt.Errorf("upsert ratio table %s: %w", rt.ID, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO ratio_tables (id, name, brackets) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, brackets = excluded.brackets
	`, rt.ID, rt.Name, brackets)
	if err != nil {
		return fmt.Errorf("upsert ratio table %s: %w", rt.ID, err)
	}
	return nil
}

// RatioTable returns a ratio table by ID.
func (t *Tx) RatioTable(ctx context.Context, id string) (model.RatioTable, error) {
	var (
		rt       model.RatioTable
		brackets string
	)
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, brackets FROM ratio_tables WHERE id = ?`, id).
		Scan(&rt.ID, &rt.Name, &brackets)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RatioTable{}, model.NotFoundf("ratio table %s not found", id)
	}
	if err != nil {
		return model.RatioTable{}, fmt.Errorf("query ratio table %s: %w", id, err)
	}
	if rt.Brackets, err = unmarshalColumn[model.Bracket](brackets); err != nil {
		return model.RatioTable{}, fmt.Errorf("ratio table %s: %w", id, err)
	}
	return rt, nil
}

// UpsertException writes a schedule exception.
func (t *Tx) UpsertException(ctx context.Context, e model.Exception) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO exceptions (id, rule_id, exception_date, type, start_override, end_override, venue_override)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_id = excluded.rule_id,
			exception_date = excluded.exception_date,
			type = excluded.type,
			start_override = excluded.start_override,
			end_override = excluded.end_override,
			venue_override = excluded.venue_override
	`, e.ID, e.RuleID, formatDate(e.Date), string(e.Type),
		nullTimeOfDay(e.StartOverride), nullTimeOfDay(e.EndOverride), e.VenueOverride)
	if err != nil {
		return fmt.Errorf("upsert exception %s: %w", e.ID, err)
	}
	return nil
}

// ExceptionsBetween returns exceptions dated in [start, end), ordered by
// rule, date and ID.
func (t *Tx) ExceptionsBetween(ctx context.Context, start, end time.Time) ([]model.Exception, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, rule_id, exception_date, type, start_override, end_override, venue_override
		FROM exceptions
		WHERE exception_date >= ? AND exception_date < ?
		ORDER BY rule_id ASC, exception_date ASC, id ASC
	`, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	var out []model.Exception
	for rows.Next() {
		var (
			e              model.Exception
			date, typ      string
			startOv, endOv sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.RuleID, &date, &typ, &startOv, &endOv, &e.VenueOverride); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		if e.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		e.Type = model.ExceptionType(typ)
		e.StartOverride = scanNullTimeOfDay(startOv)
		e.EndOverride = scanNullTimeOfDay(endOv)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exceptions: %w", err)
	}
	return out, nil
}
