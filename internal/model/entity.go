package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is read from the Entity Store. SupervisionMultiplier is ≥ 1.
type Participant struct {
	ID                    string          `json:"id" yaml:"id" validate:"required"`
	Name                  string          `json:"name" yaml:"name"`
	SupervisionMultiplier decimal.Decimal `json:"supervision_multiplier" yaml:"supervision_multiplier"`
	Address               string          `json:"address,omitempty" yaml:"address"`
	Active                bool            `json:"active" yaml:"active"`
}

// Staff is a worker who can be rostered onto instances.
type Staff struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Name     string `json:"name" yaml:"name"`
	CanDrive bool   `json:"can_drive" yaml:"can_drive"`
	Active   bool   `json:"active" yaml:"active"`
}

// StaffAvailability is a weekly window during which a staff member can work.
type StaffAvailability struct {
	StaffID string    `json:"staff_id" yaml:"staff_id" validate:"required"`
	Weekday string    `json:"weekday" yaml:"weekday" validate:"required,oneof=mon tue wed thu fri sat sun"`
	Start   TimeOfDay `json:"start" yaml:"start" validate:"gte=0,lt=1440"`
	End     TimeOfDay `json:"end" yaml:"end" validate:"gtfield=Start,lte=1440"`
}

// StaffLeave blocks a staff member for a whole date (sickness, leave).
type StaffLeave struct {
	StaffID string    `json:"staff_id" yaml:"staff_id" validate:"required"`
	Date    time.Time `json:"date" yaml:"date" validate:"required"`
	Reason  string    `json:"reason" yaml:"reason"`
}

// Vehicle is a fleet vehicle with a seat capacity.
type Vehicle struct {
	ID     string `json:"id" yaml:"id" validate:"required"`
	Name   string `json:"name" yaml:"name"`
	Seats  int    `json:"seats" yaml:"seats" validate:"gte=1"`
	Active bool   `json:"active" yaml:"active"`
}

// VehicleBlackout removes a vehicle from service for [Start, End).
type VehicleBlackout struct {
	VehicleID string    `json:"vehicle_id" yaml:"vehicle_id" validate:"required"`
	Start     time.Time `json:"start" yaml:"start" validate:"required"`
	End       time.Time `json:"end" yaml:"end" validate:"required,gtfield=Start"`
}

// RateUnit is what a rate charges per.
type RateUnit string

const (
	RateHourly     RateUnit = "hour"
	RatePerSession RateUnit = "session"
)

// Rate is a billing definition effective from a date.
type Rate struct {
	Code          string          `json:"code" yaml:"code" validate:"required"`
	Unit          RateUnit        `json:"unit" yaml:"unit" validate:"required,oneof=hour session"`
	UnitPrice     decimal.Decimal `json:"unit_price" yaml:"unit_price"`
	EffectiveFrom time.Time       `json:"effective_from" yaml:"effective_from" validate:"required"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty" yaml:"effective_to"`
}

// Covers reports whether the rate applies on date.
func (r Rate) Covers(date time.Time) bool {
	d := Day(date)
	if d.Before(Day(r.EffectiveFrom)) {
		return false
	}
	return r.EffectiveTo == nil || d.Before(Day(*r.EffectiveTo))
}
