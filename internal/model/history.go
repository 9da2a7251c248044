package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// HistoryEntry is the frozen snapshot of an archived instance.
type HistoryEntry struct {
	ID              string          `json:"id"`
	InstanceID      string          `json:"instance_id"`
	SourceRuleID    string          `json:"source_rule_id"`
	Date            time.Time       `json:"instance_date"`
	Start           TimeOfDay       `json:"start"`
	End             TimeOfDay       `json:"end"`
	VenueID         string          `json:"venue_id"`
	Snapshot        json.RawMessage `json:"snapshot"`
	AttendanceCount int             `json:"attendance_count"`
	AttendedCount   int             `json:"attended_count"`
	StaffCount      int             `json:"staff_count"`
	VehicleCount    int             `json:"vehicle_count"`
	ArchivedAt      time.Time       `json:"archived_at"`
}

// PaymentStatus is the billing state of a payment diamond.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentBilled  PaymentStatus = "billed"
)

// PaymentReason records why a diamond was created.
type PaymentReason string

const (
	ReasonAttended             PaymentReason = "attended"
	ReasonBillableCancellation PaymentReason = "billable_cancellation"
)

// PaymentDiamond is a per-participant billable record created at archival.
// Its only mutation is pending → billed.
type PaymentDiamond struct {
	ID            string          `json:"id"`
	HistoryID     string          `json:"history_id"`
	AttendanceID  string          `json:"attendance_id"`
	ParticipantID string          `json:"participant_id"`
	RateCode      string          `json:"rate_code"`
	Units         decimal.Decimal `json:"units"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        PaymentReason   `json:"reason"`
	Status        PaymentStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	BilledAt      *time.Time      `json:"billed_at,omitempty"`
}

// Window is the persisted rolling window. End is exclusive.
type Window struct {
	Weeks       int       `json:"weeks"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	GeneratedAt time.Time `json:"generated_at"`
	RolledAt    time.Time `json:"rolled_at"`
}

// Contains reports whether date falls in [Start, End).
func (w Window) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(w.Start) && d.Before(w.End)
}
