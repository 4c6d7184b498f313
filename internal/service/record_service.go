package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/clinicalcopilot/internal/model"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
	"github.com/xxxsen/clinicalcopilot/internal/recordstore"
)

var (
	vitalTerms = []string{"heart rate", "blood pressure", "temperature", "respiratory rate", "body mass index"}
	labTerms   = []string{"glucose", "cholesterol", "hemoglobin", "creatinine", "potassium"}
)

type PatientSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	BirthDate string `json:"birthDate"`
}

// Measurement is one observation split into its label and value.
type Measurement struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ClinicalItem is one listed condition, medication or allergy.
type ClinicalItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RecordService reads and writes simplified patient records.
type RecordService struct {
	store recordstore.Store
}

func NewRecordService(store recordstore.Store) *RecordService {
	return &RecordService{store: store}
}

func (s *RecordService) Save(ctx context.Context, patientID string, record *model.PatientRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode patient record: %w", err)
	}
	return s.store.Save(ctx, patientID, data)
}

func (s *RecordService) Get(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	data, err := s.store.Load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	record := model.NewPatientRecord()
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("%w: decode patient record %s: %v", appErr.ErrInvalid, patientID, err)
	}
	return record, nil
}

func (s *RecordService) IDs(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// List summarizes every stored patient. Records that fail to load are
// skipped.
func (s *RecordService) List(ctx context.Context) ([]PatientSummary, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PatientSummary, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil || len(record.Patient) == 0 {
			continue
		}
		demo := record.Patient[0]
		out = append(out, PatientSummary{
			ID:        id,
			Name:      orDefault(demo.Name, id),
			Gender:    orDefault(demo.Gender, "unknown"),
			BirthDate: orDefault(demo.BirthDate, "unknown"),
		})
	}
	return out, nil
}

// Demographic returns the first demographic entry of a stored patient.
func (s *RecordService) Demographic(ctx context.Context, patientID string) (*model.Demographic, error) {
	record, err := s.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	demo, ok := record.PrimaryDemographic()
	if !ok {
		return nil, fmt.Errorf("patient information for %s: %w", patientID, appErr.ErrNotFound)
	}
	return &demo, nil
}

func (s *RecordService) Vitals(ctx context.Context, patientID string) ([]Measurement, error) {
	return s.measurements(ctx, patientID, "vital", vitalTerms)
}

func (s *RecordService) Labs(ctx context.Context, patientID string) ([]Measurement, error) {
	return s.measurements(ctx, patientID, "lab", labTerms)
}

func (s *RecordService) Conditions(ctx context.Context, patientID string) ([]ClinicalItem, error) {
	return s.items(ctx, patientID, model.CategoryConditions, "condition")
}

func (s *RecordService) Medications(ctx context.Context, patientID string) ([]ClinicalItem, error) {
	return s.items(ctx, patientID, model.CategoryMedications, "medication")
}

func (s *RecordService) Allergies(ctx context.Context, patientID string) ([]ClinicalItem, error) {
	return s.items(ctx, patientID, model.CategoryAllergies, "allergy")
}

func (s *RecordService) items(ctx context.Context, patientID string, c model.Category, prefix string) ([]ClinicalItem, error) {
	record, err := s.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	facts := record.FactStrings(c)
	out := make([]ClinicalItem, 0, len(facts))
	for i, f := range facts {
		out = append(out, ClinicalItem{ID: fmt.Sprintf("%s-%d", prefix, i), Name: f})
	}
	return out, nil
}

func (s *RecordService) measurements(ctx context.Context, patientID, prefix string, terms []string) ([]Measurement, error) {
	record, err := s.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return filterMeasurements(record.FactStrings(model.CategoryObservations), prefix, terms), nil
}

func filterMeasurements(observations []string, prefix string, terms []string) []Measurement {
	out := []Measurement{}
	for i, obs := range observations {
		if !containsAny(strings.ToLower(obs), terms) {
			continue
		}
		parts := strings.SplitN(obs, ":", 2)
		if len(parts) < 2 {
			continue
		}
		out = append(out, Measurement{
			ID:    fmt.Sprintf("%s-%d", prefix, i),
			Name:  strings.TrimSpace(parts[0]),
			Value: strings.TrimSpace(parts[1]),
		})
	}
	return out
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
