package allocator

import (
	"context"

	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/store"
)

// Assess derives the shortfall of an instance whose child rows are loaded.
// It reads the same ratio inputs allocation uses but writes nothing.
// An uncovered sick shift needs attention only while the instance is still
// short of staff or of a driven vehicle; later allocation that closes the
// gap clears it.
func Assess(ctx context.Context, tx *store.Tx, inst model.Instance) (model.Shortfall, error) {
	var short model.Shortfall

	ids := make([]string, 0, len(inst.Attendance))
	for _, a := range inst.Attendance {
		ids = append(ids, a.ParticipantID)
	}
	participants, err := tx.Participants(ctx, ids)
	if err != nil {
		return short, err
	}
	table, err := tx.RatioTable(ctx, inst.RatioTableID)
	if err != nil {
		return short, err
	}

	active, uncovered := 0, false
	for _, s := range inst.Staff {
		if s.Active() {
			active++
		}
		uncovered = uncovered || s.NeedsAttention
	}
	short.Understaffed = active < RequiredStaff(table, VirtualCount(inst.Attendance, participants))
	short.Unvehicled = inst.RequiresTransport && (inst.Vehicle == nil || inst.Vehicle.DriverStaffID == "")
	short.NeedsAttention = uncovered && (short.Understaffed || short.Unvehicled)
	return short, nil
}
