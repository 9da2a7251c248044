package model

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// validate is shared by every boundary check. Struct-level rules cover the
// invariants tags cannot express (slot ordering, bracket contiguity).
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterStructValidation(validateSlot, Slot{})
	validate.RegisterStructValidation(validateRatioTable, RatioTable{})
	validate.RegisterStructValidation(validateRule, Rule{})
	validate.RegisterStructValidation(validateException, Exception{})
	validate.RegisterStructValidation(validateParticipant, Participant{})
	validate.RegisterStructValidation(validateRate, Rate{})
}

// Validate checks v against its tags and registered struct rules and
// returns a validation *Error listing every failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &Error{Code: ErrCodeValidation, Message: "invalid input", Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return &Error{Code: ErrCodeValidation, Message: strings.Join(msgs, "; ")}
}

func validateSlot(sl validator.StructLevel) {
	s := sl.Current().Interface().(Slot)
	if s.End <= s.Start {
		sl.ReportError(s.End, "End", "end", "after_start", "")
	}
}

func validateRatioTable(sl validator.StructLevel) {
	t := sl.Current().Interface().(RatioTable)
	for i := 1; i < len(t.Brackets); i++ {
		prev, cur := t.Brackets[i-1], t.Brackets[i]
		if cur.Min != prev.Max+1 {
			sl.ReportError(t.Brackets, "Brackets", "brackets", "contiguous", fmt.Sprint(i))
			return
		}
		if cur.RequiredStaff < prev.RequiredStaff {
			sl.ReportError(t.Brackets, "Brackets", "brackets", "monotonic", fmt.Sprint(i))
			return
		}
	}
}

func validateRule(sl validator.StructLevel) {
	r := sl.Current().Interface().(Rule)
	if r.Recurring && len(r.Weekdays) == 0 {
		sl.ReportError(r.Weekdays, "Weekdays", "weekdays", "required_if_recurring", "")
	}
	for i := 1; i < len(r.Slots); i++ {
		if r.Slots[i].Start < r.Slots[i-1].End {
			sl.ReportError(r.Slots, "Slots", "slots", "ordered", fmt.Sprint(i))
			return
		}
	}
}

func validateException(sl validator.StructLevel) {
	e := sl.Current().Interface().(Exception)
	if e.StartOverride != nil && e.EndOverride != nil && *e.EndOverride <= *e.StartOverride {
		sl.ReportError(e.EndOverride, "EndOverride", "end_override", "after_start", "")
	}
}

func validateParticipant(sl validator.StructLevel) {
	p := sl.Current().Interface().(Participant)
	if p.SupervisionMultiplier.LessThan(decimal.NewFromInt(1)) {
		sl.ReportError(p.SupervisionMultiplier, "SupervisionMultiplier", "supervision_multiplier", "gte_one", "")
	}
}

func validateRate(sl validator.StructLevel) {
	r := sl.Current().Interface().(Rate)
	if r.UnitPrice.IsNegative() {
		sl.ReportError(r.UnitPrice, "UnitPrice", "unit_price", "non_negative", "")
	}
}
