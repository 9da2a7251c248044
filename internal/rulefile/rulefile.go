// Package rulefile reads rule and entity definitions from CUE, YAML or JSON
// files and writes them to the store.
//
// This is the Rule Store boundary: slots, ratio tables and rules are decoded
// into their typed forms and validated here, so nothing downstream has to
// reinterpret free-form data.
package rulefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/loom/internal/model"
)

// File is the content of one rule file. Every section is optional.
type File struct {
	RatioTables  []model.RatioTable      `json:"ratio_tables" yaml:"ratio_tables"`
	Rules        []model.Rule            `json:"rules" yaml:"rules"`
	Exceptions   []Exception             `json:"exceptions" yaml:"exceptions"`
	Participants []model.Participant     `json:"participants" yaml:"participants"`
	Staff        []Staff                 `json:"staff" yaml:"staff"`
	Vehicles     []model.Vehicle         `json:"vehicles" yaml:"vehicles"`
	Blackouts    []model.VehicleBlackout `json:"blackouts" yaml:"blackouts"`
	Rates        []Rate                  `json:"rates" yaml:"rates"`
}

// Date is a YYYY-MM-DD calendar date.
type Date time.Time

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	t, err := model.ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(model.FormatDate(time.Time(d))), nil
}

// Exception is a rule exception as written in a file.
type Exception struct {
	ID            string              `json:"id" yaml:"id"`
	RuleID        string              `json:"rule_id" yaml:"rule_id"`
	Date          Date                `json:"date" yaml:"date"`
	Type          model.ExceptionType `json:"type" yaml:"type"`
	StartOverride *model.TimeOfDay    `json:"start_override,omitempty" yaml:"start_override"`
	EndOverride   *model.TimeOfDay    `json:"end_override,omitempty" yaml:"end_override"`
	VenueOverride string              `json:"venue_override,omitempty" yaml:"venue_override"`
}

// Model converts e.
func (e Exception) Model() model.Exception {
	return model.Exception{
		ID:            e.ID,
		RuleID:        e.RuleID,
		Date:          time.Time(e.Date),
		Type:          e.Type,
		StartOverride: e.StartOverride,
		EndOverride:   e.EndOverride,
		VenueOverride: e.VenueOverride,
	}
}

// Staff is a staff member with their weekly availability and leave days.
type Staff struct {
	model.Staff  `yaml:",inline"`
	Availability []model.StaffAvailability `json:"availability" yaml:"availability"`
	Leave        []Date                    `json:"leave" yaml:"leave"`
}

// Rate is a billing rate as written in a file.
type Rate struct {
	Code          string          `json:"code" yaml:"code"`
	Unit          model.RateUnit  `json:"unit" yaml:"unit"`
	UnitPrice     decimal.Decimal `json:"unit_price" yaml:"unit_price"`
	EffectiveFrom Date            `json:"effective_from" yaml:"effective_from"`
	EffectiveTo   *Date           `json:"effective_to,omitempty" yaml:"effective_to"`
}

// Model converts r.
func (r Rate) Model() model.Rate {
	out := model.Rate{
		Code:          r.Code,
		Unit:          r.Unit,
		UnitPrice:     r.UnitPrice,
		EffectiveFrom: time.Time(r.EffectiveFrom),
	}
	if r.EffectiveTo != nil {
		to := time.Time(*r.EffectiveTo)
		out.EffectiveTo = &to
	}
	return out
}

// Load reads path. A directory is loaded as one CUE package; a file is
// decoded by extension (.cue, .yaml, .yml or .json).
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("rule file: %w", err)
	}
	if info.IsDir() {
		return loadCUEDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return ParseCUE(data, path)
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, model.Validationf("unsupported rule file extension %q", ext)
	}
}

// ParseYAML decodes a YAML rule file. Unknown keys are rejected.
func ParseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, model.Validationf("parse yaml: %v", err)
	}
	return &f, nil
}

// ParseJSON decodes a JSON rule file. Unknown keys are rejected.
func ParseJSON(data []byte) (*File, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, model.Validationf("parse json: %v", err)
	}
	return &f, nil
}

// ParseCUE evaluates a single CUE file. The evaluated value must be
// concrete; it is exported as JSON and decoded like a JSON rule file.
func ParseCUE(data []byte, filename string) (*File, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(filename))
	return fromCUE(v)
}

func loadCUEDir(dir string) (*File, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, model.Validationf("no CUE instances in %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, model.Validationf("load CUE files: %v", err)
	}
	return fromCUE(cuecontext.New().BuildInstance(instances[0]))
}

func fromCUE(v cue.Value) (*File, error) {
	if err := v.Err(); err != nil {
		return nil, model.Validationf("build CUE value: %v", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, model.Validationf("CUE value is not concrete: %v", err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, model.Validationf("export CUE value: %v", err)
	}
	return ParseJSON(data)
}

// Validate checks every entry and returns one validation error listing all
// failures, each prefixed with the section and index.
func (f *File) Validate() error {
	var errs []string
	check := func(section string, i int, v any) {
		if err := model.Validate(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s[%d]: %v", section, i, err))
		}
	}
	for i, t := range f.RatioTables {
		check("ratio_tables", i, t)
	}
	for i, r := range f.Rules {
		check("rules", i, r)
	}
	for i, e := range f.Exceptions {
		check("exceptions", i, e.Model())
	}
	for i, p := range f.Participants {
		check("participants", i, p)
	}
	for i, s := range f.Staff {
		check("staff", i, s.Staff)
		for j, a := range s.Availability {
			if a.StaffID == "" {
				a.StaffID = s.ID
			}
			check(fmt.Sprintf("staff[%d].availability", i), j, a)
		}
	}
	for i, v := range f.Vehicles {
		check("vehicles", i, v)
	}
	for i, b := range f.Blackouts {
		check("blackouts", i, b)
	}
	for i, r := range f.Rates {
		check("rates", i, r.Model())
	}
	if len(errs) > 0 {
		return model.Validationf("%s", strings.Join(errs, "\n"))
	}
	return nil
}
