// Package model defines the Loom's domain types.
//
// Rules, exceptions and ratio tables arrive from the Rule Store and are
// validated once, at the boundary (see Validate). Everything downstream of
// that boundary trusts the typed values and never re-interprets free-form
// payloads: time slots are a tagged variant (SlotKind) and ratio tables are
// ordered bracket lists.
//
// Instances and their attendance/staff/vehicle rows are the materialised
// side. Each carries an IsOverridden flag; once a human edits a row the
// projector stops writing to it.
package model
