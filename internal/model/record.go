package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Category string

const (
	CategoryConditions        Category = "conditions"
	CategoryObservations      Category = "observations"
	CategoryMedications       Category = "medications"
	CategoryProcedures        Category = "procedures"
	CategoryAllergies         Category = "allergies"
	CategoryDiagnosticReports Category = "diagnostic_reports"
	CategoryImmunizations     Category = "immunizations"
	CategoryEncounters        Category = "encounters"
	CategoryCarePlans         Category = "careplans"
	CategoryClaimsDiagnoses   Category = "claims_diagnoses"
	CategoryPatient           Category = "patient"
)

// FactCategories lists every non-demographic category in chunking order.
var FactCategories = []Category{
	CategoryConditions,
	CategoryObservations,
	CategoryMedications,
	CategoryProcedures,
	CategoryAllergies,
	CategoryDiagnosticReports,
	CategoryImmunizations,
	CategoryEncounters,
	CategoryCarePlans,
	CategoryClaimsDiagnoses,
}

// CoreCategories are the keys whose presence marks a payload as already simplified.
var CoreCategories = []Category{
	CategoryConditions,
	CategoryObservations,
	CategoryMedications,
	CategoryProcedures,
	CategoryAllergies,
}

// Label renders the category the way chunk text and prompts show it: first
// letter upper-cased, the rest lower-cased.
func (c Category) Label() string {
	s := strings.ToLower(string(c))
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Fact is a single extracted clinical fact: either plain text or a flat
// key/value record.
type Fact struct {
	Text   string
	Fields map[string]interface{}
}

func TextFact(text string) Fact {
	return Fact{Text: text}
}

func (f Fact) IsStructured() bool {
	return f.Fields != nil
}

// Key returns the canonical form used for exact-value dedup. Structured
// facts serialize with sorted keys so field order never matters.
func (f Fact) Key() string {
	if !f.IsStructured() {
		return "t:" + f.Text
	}
	data, err := json.Marshal(f.Fields)
	if err != nil {
		return "f:" + fmt.Sprint(f.Fields)
	}
	return "f:" + string(data)
}

func (f Fact) String() string {
	if !f.IsStructured() {
		return f.Text
	}
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f.Fields[k]))
	}
	return strings.Join(parts, ", ")
}

func (f Fact) MarshalJSON() ([]byte, error) {
	if f.IsStructured() {
		return json.Marshal(f.Fields)
	}
	return json.Marshal(f.Text)
}

func (f *Fact) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		fields := map[string]interface{}{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		f.Text = ""
		f.Fields = fields
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Fields = nil
	switch t := v.(type) {
	case nil:
		f.Text = ""
	case string:
		f.Text = t
	default:
		f.Text = fmt.Sprint(t)
	}
	return nil
}

type Demographic struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	BirthDate string `json:"birthDate"`
}

// PatientRecord is the simplified per-category view of one patient's data.
type PatientRecord struct {
	PatientID         string        `json:"patient_id,omitempty"`
	Patient           []Demographic `json:"patient"`
	Conditions        []Fact        `json:"conditions"`
	Observations      []Fact        `json:"observations"`
	Medications       []Fact        `json:"medications"`
	Procedures        []Fact        `json:"procedures"`
	Allergies         []Fact        `json:"allergies"`
	DiagnosticReports []Fact        `json:"diagnostic_reports"`
	Immunizations     []Fact        `json:"immunizations"`
	Encounters        []Fact        `json:"encounters"`
	CarePlans         []Fact        `json:"careplans"`
	ClaimsDiagnoses   []Fact        `json:"claims_diagnoses"`
}

func NewPatientRecord() *PatientRecord {
	r := &PatientRecord{Patient: []Demographic{}}
	for _, c := range FactCategories {
		r.SetFacts(c, []Fact{})
	}
	return r
}

func (r *PatientRecord) Facts(c Category) []Fact {
	if r == nil {
		return nil
	}
	if p := r.slot(c); p != nil {
		return *p
	}
	return nil
}

func (r *PatientRecord) SetFacts(c Category, facts []Fact) {
	if p := r.slot(c); p != nil {
		*p = facts
	}
}

func (r *PatientRecord) slot(c Category) *[]Fact {
	switch c {
	case CategoryConditions:
		return &r.Conditions
	case CategoryObservations:
		return &r.Observations
	case CategoryMedications:
		return &r.Medications
	case CategoryProcedures:
		return &r.Procedures
	case CategoryAllergies:
		return &r.Allergies
	case CategoryDiagnosticReports:
		return &r.DiagnosticReports
	case CategoryImmunizations:
		return &r.Immunizations
	case CategoryEncounters:
		return &r.Encounters
	case CategoryCarePlans:
		return &r.CarePlans
	case CategoryClaimsDiagnoses:
		return &r.ClaimsDiagnoses
	}
	return nil
}

// FactStrings renders a category as plain strings.
func (r *PatientRecord) FactStrings(c Category) []string {
	facts := r.Facts(c)
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.String())
	}
	return out
}

func (r *PatientRecord) PrimaryDemographic() (Demographic, bool) {
	if r == nil || len(r.Patient) == 0 {
		return Demographic{}, false
	}
	return r.Patient[0], true
}
