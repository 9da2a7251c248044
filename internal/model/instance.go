package model

import (
	"time"
)

// Instance is the materialised occurrence of a rule on one date.
// At most one exists per (SourceRuleID, Date).
type Instance struct {
	ID                string    `json:"id"`
	SourceRuleID      string    `json:"source_rule_id"`
	Date              time.Time `json:"instance_date"`
	Start             TimeOfDay `json:"start"`
	End               TimeOfDay `json:"end"`
	VenueID           string    `json:"venue_id"`
	RequiresTransport bool      `json:"requires_transport"`
	RatioTableID      string    `json:"ratio_table_id"`
	RateCode          string    `json:"rate_code,omitempty"`
	Slots             []Slot    `json:"slots"`
	ProjectionHash    string    `json:"projection_hash"`
	ProjectedAt       time.Time `json:"projected_at"`
	IsOverridden      bool      `json:"is_overridden"`
	QualityAuditFlag  bool      `json:"quality_audit_flag"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	// Populated by read paths only.
	Attendance []Attendance       `json:"attendance,omitempty"`
	Staff      []StaffAssignment  `json:"staff,omitempty"`
	Vehicle    *VehicleAssignment `json:"vehicle,omitempty"`
	Shortfall  *Shortfall         `json:"shortfall,omitempty"`
}

// StartsAt returns the instant the instance begins in loc.
func (i Instance) StartsAt(loc *time.Location) time.Time {
	return i.Start.At(i.Date, loc)
}

// Shortfall summarises what an operator still needs to resolve.
type Shortfall struct {
	Understaffed   bool `json:"understaffed"`
	Unvehicled     bool `json:"unvehicled"`
	NeedsAttention bool `json:"needs_attention"`
}

// Any reports whether any shortfall is present.
func (s Shortfall) Any() bool {
	return s.Understaffed || s.Unvehicled || s.NeedsAttention
}

// AttendanceStatus is the lifecycle of a participant on an instance.
type AttendanceStatus string

const (
	AttendanceConfirmed AttendanceStatus = "confirmed"
	AttendanceCancelled AttendanceStatus = "cancelled"
	AttendanceAttended  AttendanceStatus = "attended"
	AttendanceNoShow    AttendanceStatus = "no_show"
)

// Valid reports whether s is a known status.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceConfirmed, AttendanceCancelled, AttendanceAttended, AttendanceNoShow:
		return true
	}
	return false
}

// Counts reports whether the participant takes up a seat and supervision.
func (s AttendanceStatus) Counts() bool {
	return s == AttendanceConfirmed || s == AttendanceAttended
}

// CancellationType classifies a participant cancellation.
type CancellationType string

const (
	CancelNormal      CancellationType = "normal"
	CancelShortNotice CancellationType = "short_notice"
)

// Attendance links a participant to an instance.
type Attendance struct {
	ID               string           `json:"id"`
	InstanceID       string           `json:"instance_id"`
	ParticipantID    string           `json:"participant_id"`
	SourceRuleID     string           `json:"source_rule_id"`
	Status           AttendanceStatus `json:"status"`
	IsOverridden     bool             `json:"is_overridden"`
	CancellationType CancellationType `json:"cancellation_type,omitempty"`
	BillingImpact    bool             `json:"billing_impact"`
	HoursNotice      *float64         `json:"hours_notice,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
}

// Billable reports whether archival should produce a payment for this row.
func (a Attendance) Billable() bool {
	return a.Status == AttendanceAttended || (a.Status == AttendanceCancelled && a.BillingImpact)
}

// StaffRole is the position a staff member fills on an instance.
type StaffRole string

const (
	RoleLead    StaffRole = "LEAD"
	RoleSupport StaffRole = "SUPPORT"
)

// ShiftStatus tracks a staff assignment after allocation.
type ShiftStatus string

const (
	ShiftAssigned ShiftStatus = "assigned"
	ShiftSick     ShiftStatus = "staff_sick"
)

// StaffAssignment is a shift: one staff member on one instance.
type StaffAssignment struct {
	ID             string      `json:"id"`
	InstanceID     string      `json:"instance_id"`
	StaffID        string      `json:"staff_id"`
	SourceRuleID   string      `json:"source_rule_id"`
	Role           StaffRole   `json:"role"`
	Status         ShiftStatus `json:"status"`
	IsOverridden   bool        `json:"is_overridden"`
	NeedsAttention bool        `json:"needs_attention"`
	SubstituteFor  string      `json:"substitute_for,omitempty"`
}

// Active reports whether the shift is still being worked.
func (s StaffAssignment) Active() bool {
	return s.Status == ShiftAssigned
}

// VehicleAssignment links a vehicle, an optional driver and the stop order.
type VehicleAssignment struct {
	ID            string   `json:"id"`
	InstanceID    string   `json:"instance_id"`
	VehicleID     string   `json:"vehicle_id"`
	DriverStaffID string   `json:"driver_staff_id,omitempty"`
	Stops         []string `json:"stops"`
	RouteComputed bool     `json:"route_computed"`
	RouteScore    float64  `json:"route_score"`
	IsOverridden  bool     `json:"is_overridden"`
}
