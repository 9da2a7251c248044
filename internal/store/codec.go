package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/loom/internal/model"
)

// timeLayout is fixed width so stored instants compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return model.FormatDate(t)
}

func parseDate(s string) (time.Time, error) {
	d, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func scanNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func scanNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func nullTimeOfDay(t *model.TimeOfDay) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*t), Valid: true}
}

func scanNullTimeOfDay(ni sql.NullInt64) *model.TimeOfDay {
	if !ni.Valid {
		return nil
	}
	t := model.TimeOfDay(ni.Int64)
	return &t
}

// marshalColumn encodes a structured value for a TEXT column.
// Nil slices are stored as an empty array so reads never see null.
func marshalColumn[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal column: %w", err)
	}
	return string(data), nil
}

func unmarshalColumn[T any](data string) ([]T, error) {
	out := []T{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal column: %w", err)
	}
	return out, nil
}
