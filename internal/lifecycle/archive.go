package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
)

// ArchiveStats summarises one archival pass.
type ArchiveStats struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	Payments int       `json:"payments"`
	Unpriced int       `json:"unpriced"`
}

// Archive moves every instance dated before cutoff into the history ledger.
// Each instance is archived in its own transaction: its snapshot, history
// rows, payment diamonds and the live-row deletion apply together or not at
// all. A failure stops the pass; instances already archived stay archived.
func (m *Manager) Archive(ctx context.Context, cutoff time.Time) (ArchiveStats, error) {
	stats := ArchiveStats{Cutoff: model.Day(cutoff)}

	var due []model.Instance
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		due, err = tx.InstancesBefore(ctx, stats.Cutoff)
		return err
	})
	if err != nil {
		return stats, err
	}

	for _, inst := range due {
		var payments, unpriced int
		err := m.store.InTx(ctx, func(tx *store.Tx) error {
			var err error
			payments, unpriced, err = m.archiveOne(ctx, tx, inst.ID)
			return err
		})
		if err != nil {
			m.record(stats)
			return stats, fmt.Errorf("archive instance %s: %w", inst.ID, err)
		}
		stats.Archived++
		stats.Payments += payments
		stats.Unpriced += unpriced
	}

	m.record(stats)
	if stats.Archived > 0 {
		m.log.Infof("archived %d instances before %s with %d payment diamonds",
			stats.Archived, model.FormatDate(stats.Cutoff), stats.Payments)
	}
	return stats, nil
}

func (m *Manager) record(stats ArchiveStats) {
	m.metrics.Archived(stats.Archived)
	m.metrics.PaymentDiamonds(string(model.PaymentPending), stats.Payments)
}

func (m *Manager) archiveOne(ctx context.Context, tx *store.Tx, instanceID string) (payments, unpriced int, err error) {
	inst, err := tx.InstanceByID(ctx, instanceID)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.LoadDetails(ctx, &inst); err != nil {
		return 0, 0, err
	}

	snapshot, err := json.Marshal(inst)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot: %w", err)
	}
	now := m.clock.Now().UTC()
	entry := model.HistoryEntry{
		ID:              m.ids.NewID(),
		InstanceID:      inst.ID,
		SourceRuleID:    inst.SourceRuleID,
		Date:            inst.Date,
		Start:           inst.Start,
		End:             inst.End,
		VenueID:         inst.VenueID,
		Snapshot:        snapshot,
		AttendanceCount: len(inst.Attendance),
		StaffCount:      len(inst.Staff),
		ArchivedAt:      now,
	}
	for _, a := range inst.Attendance {
		if a.Status == model.AttendanceAttended {
			entry.AttendedCount++
		}
	}
	if inst.Vehicle != nil {
		entry.VehicleCount = 1
	}
	if err := tx.InsertHistory(ctx, entry); err != nil {
		return 0, 0, err
	}
	for _, a := range inst.Attendance {
		if err := tx.InsertHistoryAttendance(ctx, entry.ID, a); err != nil {
			return 0, 0, err
		}
	}
	for _, s := range inst.Staff {
		if err := tx.InsertHistoryStaff(ctx, entry.ID, inst, s); err != nil {
			return 0, 0, err
		}
	}

	for _, a := range inst.Attendance {
		if !a.Billable() {
			continue
		}
		rate, err := tx.RateFor(ctx, inst.RateCode, inst.Date)
		if model.IsNotFound(err) {
			m.log.Warnf("no rate %q on %s; attendance %s archived without payment",
				inst.RateCode, model.FormatDate(inst.Date), a.ID)
			unpriced++
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		if err := tx.InsertPayment(ctx, diamond(m.ids.NewID(), entry.ID, inst, a, rate, now)); err != nil {
			return 0, 0, err
		}
		payments++
	}

	if err := tx.DeleteInstance(ctx, inst.ID); err != nil {
		return 0, 0, err
	}
	return payments, unpriced, nil
}

// diamond prices one billable attendance. Hourly rates bill the instance's
// duration; session rates bill one unit.
func diamond(id, historyID string, inst model.Instance, a model.Attendance, rate model.Rate, now time.Time) model.PaymentDiamond {
	units := decimal.NewFromInt(1)
	if rate.Unit == model.RateHourly {
		units = decimal.NewFromInt(int64(inst.End-inst.Start)).Div(decimal.NewFromInt(60))
	}
	reason := model.ReasonAttended
	if a.Status == model.AttendanceCancelled {
		reason = model.ReasonBillableCancellation
	}
	return model.PaymentDiamond{
		ID:            id,
		HistoryID:     historyID,
		AttendanceID:  a.ID,
		ParticipantID: a.ParticipantID,
		RateCode:      rate.Code,
		Units:         units,
		UnitPrice:     rate.UnitPrice,
		Amount:        units.Mul(rate.UnitPrice),
		Reason:        reason,
		Status:        model.PaymentPending,
		CreatedAt:     now,
	}
}

// Payments lists payment diamonds; an empty status lists all of them.
func (m *Manager) Payments(ctx context.Context, status model.PaymentStatus) ([]model.PaymentDiamond, error) {
	if status != "" && status != model.PaymentPending && status != model.PaymentBilled {
		return nil, model.Validationf("unknown payment status %q", status)
	}
	var out []model.PaymentDiamond
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Payments(ctx, status)
		return err
	})
	return out, err
}

// MarkBilled moves the given diamonds from pending to billed, all or none.
func (m *Manager) MarkBilled(ctx context.Context, ids []string) ([]model.PaymentDiamond, error) {
	if len(ids) == 0 {
		return nil, model.Validationf("at least one payment id is required")
	}
	now := m.clock.Now().UTC()
	out := make([]model.PaymentDiamond, 0, len(ids))
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			if err := tx.MarkBilled(ctx, id, now); err != nil {
				return err
			}
			p, err := tx.PaymentByID(ctx, id)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.PaymentDiamonds(string(model.PaymentBilled), len(out))
	return out, nil
}
