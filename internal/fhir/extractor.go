package fhir

import (
	"strings"

	"github.com/xxxsen/clinicalcopilot/internal/model"
)

// Extraction is what one resource contributes to a patient record. At most
// one of Facts and Demographic is set.
type Extraction struct {
	Facts       []model.Fact
	Demographic *model.Demographic
}

// Extractor maps a raw resource to its extraction; false means the resource
// carried nothing usable.
type Extractor func(r Resource) (Extraction, bool)

type extractorEntry struct {
	category model.Category
	extract  Extractor
}

var extractors = map[ResourceType]extractorEntry{
	ResourceCondition:          {model.CategoryConditions, codeTextExtractor("code")},
	ResourceObservation:        {model.CategoryObservations, extractObservation},
	ResourceMedicationRequest:  {model.CategoryMedications, codeTextExtractor("medicationCodeableConcept")},
	ResourceProcedure:          {model.CategoryProcedures, codeTextExtractor("code")},
	ResourceAllergyIntolerance: {model.CategoryAllergies, codeTextExtractor("code")},
	ResourceDiagnosticReport:   {model.CategoryDiagnosticReports, codeTextExtractor("code")},
	ResourcePatient:            {model.CategoryPatient, extractPatient},
	ResourceImmunization:       {model.CategoryImmunizations, codeTextExtractor("vaccineCode")},
	ResourceEncounter:          {model.CategoryEncounters, extractEncounter},
	ResourceCarePlan:           {model.CategoryCarePlans, extractCarePlan},
	ResourceClaim:              {model.CategoryClaimsDiagnoses, extractClaim},
}

func IsSupported(t ResourceType) bool {
	_, ok := extractors[t]
	return ok
}

// CategoryOf returns the record category a resource type feeds.
func CategoryOf(t ResourceType) (model.Category, bool) {
	e, ok := extractors[t]
	if !ok {
		return "", false
	}
	return e.category, true
}

// Extract runs the extractor registered for the resource's type.
func Extract(r Resource) (Extraction, bool) {
	e, ok := extractors[r.Type()]
	if !ok {
		return Extraction{}, false
	}
	return e.extract(r)
}

func single(text string) (Extraction, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Extraction{}, false
	}
	return Extraction{Facts: []model.Fact{model.TextFact(text)}}, true
}

func codeTextExtractor(field string) Extractor {
	return func(r Resource) (Extraction, bool) {
		return single(r.text(field))
	}
}

func extractObservation(r Resource) (Extraction, bool) {
	code := strings.TrimSpace(r.text("code"))
	if code == "" {
		return Extraction{}, false
	}
	var value interface{}
	var unit string
	switch {
	case r["valueQuantity"] != nil:
		q := r.obj("valueQuantity")
		value = q["value"]
		unit = q.str("unit")
	case r["valueString"] != nil:
		value = r["valueString"]
	case r["valueCodeableConcept"] != nil:
		value = r.obj("valueCodeableConcept")["text"]
	}
	if !present(value) {
		return single(code)
	}
	return single(code + ": " + asString(value) + " " + unit)
}

func extractPatient(r Resource) (Extraction, bool) {
	d := &model.Demographic{
		ID:        r.ID(),
		Gender:    r.str("gender"),
		BirthDate: r.str("birthDate"),
	}
	if name := r.first("name"); len(name) > 0 {
		parts := make([]string, 0, 4)
		for _, g := range name.list("given") {
			if s := asString(g); s != "" {
				parts = append(parts, s)
			}
		}
		if family := name.str("family"); family != "" {
			parts = append(parts, family)
		}
		d.Name = strings.Join(parts, " ")
	}
	return Extraction{Demographic: d}, true
}

func extractEncounter(r Resource) (Extraction, bool) {
	return single(r.first("type").str("text"))
}

func extractCarePlan(r Resource) (Extraction, bool) {
	if desc := strings.TrimSpace(r.str("description")); desc != "" {
		return single(desc)
	}
	return single(r.str("title"))
}

func extractClaim(r Resource) (Extraction, bool) {
	seen := make(map[string]struct{})
	var facts []model.Fact
	for _, item := range r.list("diagnosis") {
		text := strings.TrimSpace(asObject(item).text("diagnosisCodeableConcept"))
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		facts = append(facts, model.TextFact(text))
	}
	if len(facts) == 0 {
		return Extraction{}, false
	}
	return Extraction{Facts: facts}, true
}
