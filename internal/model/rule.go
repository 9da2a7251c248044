package model

import (
	"time"
)

// SlotKind tags a time slot variant.
type SlotKind string

const (
	SlotActivity SlotKind = "activity"
	SlotPickup   SlotKind = "pickup"
	SlotDropoff  SlotKind = "dropoff"
)

// Slot is one segment of a rule's day: the activity itself or a transport leg.
// Pickup and dropoff legs require a vehicle; activity slots never do.
type Slot struct {
	Kind  SlotKind  `json:"kind" yaml:"kind" validate:"required,oneof=activity pickup dropoff"`
	Start TimeOfDay `json:"start" yaml:"start" validate:"gte=0,lt=1440"`
	End   TimeOfDay `json:"end" yaml:"end" validate:"gt=0,lte=1440"`
}

// RequiresVehicle reports whether this slot is a transport leg.
func (s Slot) RequiresVehicle() bool {
	return s.Kind == SlotPickup || s.Kind == SlotDropoff
}

// Bracket maps a participant range to a required staff count.
type Bracket struct {
	Min           int `json:"min" yaml:"min" validate:"gte=0"`
	Max           int `json:"max" yaml:"max" validate:"gtefield=Min"`
	RequiredStaff int `json:"required_staff" yaml:"required_staff" validate:"gte=1"`
}

// RatioTable is an ordered list of staffing brackets, ascending by Min.
type RatioTable struct {
	ID       string    `json:"id" yaml:"id" validate:"required"`
	Name     string    `json:"name,omitempty" yaml:"name"`
	Brackets []Bracket `json:"brackets" yaml:"brackets" validate:"required,min=1,dive"`
}

// Rule is a recurring activity definition owned by the Rule Store.
type Rule struct {
	ID           string    `json:"id" yaml:"id" validate:"required"`
	Name         string    `json:"name" yaml:"name"`
	Weekdays     []string  `json:"weekdays" yaml:"weekdays" validate:"dive,oneof=mon tue wed thu fri sat sun"`
	Recurring    bool      `json:"recurring" yaml:"recurring"`
	Slots        []Slot    `json:"slots" yaml:"slots" validate:"required,min=1,dive"`
	VenueID      string    `json:"venue_id" yaml:"venue_id" validate:"required"`
	RatioTableID string    `json:"ratio_table_id" yaml:"ratio_table_id" validate:"required"`
	RateCode     string    `json:"rate_code,omitempty" yaml:"rate_code"`
	Enrolments   []string  `json:"enrolments,omitempty" yaml:"enrolments"`
	Active       bool      `json:"active" yaml:"active"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// FiresOn reports whether the rule's weekly pattern includes wd.
func (r Rule) FiresOn(wd time.Weekday) bool {
	for _, name := range r.Weekdays {
		if d, ok := ParseWeekday(name); ok && d == wd {
			return true
		}
	}
	return false
}

// Start is the earliest slot start.
func (r Rule) Start() TimeOfDay {
	start := TimeOfDay(24 * 60)
	for _, s := range r.Slots {
		start = min(start, s.Start)
	}
	return start
}

// End is the latest slot end.
func (r Rule) End() TimeOfDay {
	var end TimeOfDay
	for _, s := range r.Slots {
		end = max(end, s.End)
	}
	return end
}

// RequiresTransport reports whether any slot needs a vehicle.
func (r Rule) RequiresTransport() bool {
	for _, s := range r.Slots {
		if s.RequiresVehicle() {
			return true
		}
	}
	return false
}

// ExceptionType distinguishes one-off additions from cancellations.
type ExceptionType string

const (
	ExceptionAdded     ExceptionType = "added"
	ExceptionCancelled ExceptionType = "cancelled"
)

// Exception is a one-off deviation from a rule on a single date.
// Overrides only apply to added exceptions and to matching recurring dates.
type Exception struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	RuleID        string        `json:"rule_id" yaml:"rule_id" validate:"required"`
	Date          time.Time     `json:"date" yaml:"date" validate:"required"`
	Type          ExceptionType `json:"type" yaml:"type" validate:"required,oneof=added cancelled"`
	StartOverride *TimeOfDay    `json:"start_override,omitempty" yaml:"start_override"`
	EndOverride   *TimeOfDay    `json:"end_override,omitempty" yaml:"end_override"`
	VenueOverride string        `json:"venue_override,omitempty" yaml:"venue_override"`
}
