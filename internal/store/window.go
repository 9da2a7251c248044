package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/loom/internal/model"
)

// Window returns the persisted window. ok is false before the first
// generate.
func (t *Tx) Window(ctx context.Context) (w model.Window, ok bool, err error) {
	var start, end, generated, rolled string
	err = t.tx.QueryRowContext(ctx, `
		SELECT weeks, start_date, end_date, generated_at, rolled_at FROM window_state WHERE id = 1
	`).Scan(&w.Weeks, &start, &end, &generated, &rolled)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Window{}, false, nil
	}
	if err != nil {
		return model.Window{}, false, fmt.Errorf("query window: %w", err)
	}

	if w.Start, err = parseDate(start); err != nil {
		return model.Window{}, false, err
	}
	if w.End, err = parseDate(end); err != nil {
		return model.Window{}, false, err
	}
	if w.GeneratedAt, err = parseTime(generated); err != nil {
		return model.Window{}, false, err
	}
	if w.RolledAt, err = parseTime(rolled); err != nil {
		return model.Window{}, false, err
	}
	return w, true, nil
}

// PutWindow stores the window, replacing any previous state.
func (t *Tx) PutWindow(ctx context.Context, w model.Window) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO window_state (id, weeks, start_date, end_date, generated_at, rolled_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			weeks = excluded.weeks,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			generated_at = excluded.generated_at,
			rolled_at = excluded.rolled_at
	`, w.Weeks, formatDate(w.Start), formatDate(w.End), formatTime(w.GeneratedAt), formatTime(w.RolledAt))
	if err != nil {
		return fmt.Errorf("put window: %w", err)
	}
	return nil
}
