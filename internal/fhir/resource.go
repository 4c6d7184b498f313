package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ResourceType string

const (
	ResourceCondition          ResourceType = "Condition"
	ResourceObservation        ResourceType = "Observation"
	ResourceMedicationRequest  ResourceType = "MedicationRequest"
	ResourceProcedure          ResourceType = "Procedure"
	ResourceAllergyIntolerance ResourceType = "AllergyIntolerance"
	ResourceDiagnosticReport   ResourceType = "DiagnosticReport"
	ResourcePatient            ResourceType = "Patient"
	ResourceImmunization       ResourceType = "Immunization"
	ResourceEncounter          ResourceType = "Encounter"
	ResourceCarePlan           ResourceType = "CarePlan"
	ResourceClaim              ResourceType = "Claim"
)

// Resource is a raw FHIR resource as decoded from JSON.
type Resource map[string]interface{}

func (r Resource) Type() ResourceType {
	return ResourceType(r.str("resourceType"))
}

func (r Resource) ID() string {
	return r.str("id")
}

func (r Resource) str(key string) string {
	if r == nil {
		return ""
	}
	return asString(r[key])
}

func (r Resource) obj(key string) Resource {
	if r == nil {
		return nil
	}
	return asObject(r[key])
}

func (r Resource) list(key string) []interface{} {
	if r == nil {
		return nil
	}
	l, _ := r[key].([]interface{})
	return l
}

// first returns the first element of a list field as an object.
func (r Resource) first(key string) Resource {
	l := r.list(key)
	if len(l) == 0 {
		return nil
	}
	return asObject(l[0])
}

// text reads the "text" member of a CodeableConcept field.
func (r Resource) text(key string) string {
	return r.obj(key).str("text")
}

func asObject(v interface{}) Resource {
	switch m := v.(type) {
	case map[string]interface{}:
		return Resource(m)
	case Resource:
		return m
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// present reports whether a decoded JSON value carries something, treating
// zero numbers and blank strings as absent.
func present(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case bool:
		return t
	}
	return true
}
