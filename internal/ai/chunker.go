package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/clinicalcopilot/internal/model"
)

const unknownPatientID = "unknown"

// Chunk turns a record into embeddable text chunks: one per demographic
// entry, then one per fact of every non-empty category. Ids carry a
// counter shared across the whole pass so they stay unique.
func Chunk(record *model.PatientRecord, patientID string) []*model.Chunk {
	if record == nil {
		return nil
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		if demo, ok := record.PrimaryDemographic(); ok && demo.ID != "" {
			patientID = demo.ID
		} else {
			patientID = unknownPatientID
		}
	}

	var chunks []*model.Chunk
	counter := 0
	add := func(typ model.Category, text string) {
		chunks = append(chunks, &model.Chunk{
			ID:        fmt.Sprintf("%s_%s_%d", patientID, typ, counter),
			Text:      text,
			Type:      string(typ),
			PatientID: patientID,
		})
		counter++
	}

	for _, demo := range record.Patient {
		add(model.CategoryPatient, fmt.Sprintf("Patient: Name=%s, Gender=%s, BirthDate=%s", demo.Name, demo.Gender, demo.BirthDate))
	}
	for _, c := range model.FactCategories {
		for _, fact := range record.Facts(c) {
			add(c, c.Label()+": "+fact.String())
		}
	}
	return chunks
}
