package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/clinicalcopilot/internal/model"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

type Ingester struct {
	extract func(Resource) (Extraction, bool)
}

func NewIngester() *Ingester {
	return &Ingester{extract: Extract}
}

// Parse decodes a JSON payload, keeping numbers in their literal form, and
// processes it.
func (in *Ingester) Parse(ctx context.Context, data []byte) (*model.PatientRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", appErr.ErrInvalid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload must be a json object", appErr.ErrInvalid)
	}
	return in.Process(ctx, raw)
}

// Process accepts either a FHIR bundle or an already simplified record. A
// simplified record is returned unchanged so re-ingesting it is idempotent.
func (in *Ingester) Process(ctx context.Context, raw map[string]interface{}) (*model.PatientRecord, error) {
	if IsSimplified(raw) {
		logutil.GetLogger(ctx).Debug("payload already simplified, passing through")
		return decodeSimplified(raw)
	}
	return in.ExtractBundle(ctx, raw), nil
}

func IsSimplified(raw map[string]interface{}) bool {
	for _, c := range model.CoreCategories {
		if _, ok := raw[string(c)]; ok {
			return true
		}
	}
	return false
}

func decodeSimplified(raw map[string]interface{}) (*model.PatientRecord, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: encode simplified record: %v", appErr.ErrInvalid, err)
	}
	record := model.NewPatientRecord()
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("%w: decode simplified record: %v", appErr.ErrInvalid, err)
	}
	return record, nil
}

// ExtractBundle walks every entry, dispatches supported resources and
// deduplicates facts per category. A bundle without an entry list yields an
// empty record.
func (in *Ingester) ExtractBundle(ctx context.Context, bundle map[string]interface{}) *model.PatientRecord {
	logger := logutil.GetLogger(ctx)
	record := model.NewPatientRecord()
	sets := make(map[model.Category]*factSet, len(model.FactCategories))
	for _, c := range model.FactCategories {
		sets[c] = newFactSet()
	}

	entries, _ := bundle["entry"].([]interface{})
	skipped := 0
	for i, item := range entries {
		resource := asObject(item).obj("resource")
		rt := resource.Type()
		category, ok := CategoryOf(rt)
		if !ok {
			continue
		}
		ext, ok, err := safeExtract(in.extract, resource)
		if err != nil {
			skipped++
			logger.Warn("failed to extract resource",
				zap.Int("entry", i),
				zap.String("resource_type", string(rt)),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		if category == model.CategoryPatient {
			if ext.Demographic != nil {
				record.Patient = append(record.Patient, *ext.Demographic)
				if record.PatientID == "" {
					record.PatientID = ext.Demographic.ID
				}
			}
			continue
		}
		sets[category].addAll(ext.Facts)
	}

	for c, set := range sets {
		record.SetFacts(c, set.items)
	}
	logger.Info("bundle extracted",
		zap.Int("entries", len(entries)),
		zap.Int("skipped", skipped),
		zap.Int("patients", len(record.Patient)),
	)
	return record
}

func safeExtract(extract func(Resource) (Extraction, bool), r Resource) (ext Extraction, ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", appErr.ErrExtraction, rec)
		}
	}()
	ext, ok = extract(r)
	return ext, ok, nil
}

// factSet keeps first-seen order while rejecting exact duplicates by
// canonical key.
type factSet struct {
	seen  map[string]struct{}
	items []model.Fact
}

func newFactSet() *factSet {
	return &factSet{seen: make(map[string]struct{}), items: []model.Fact{}}
}

func (s *factSet) addAll(facts []model.Fact) {
	for _, f := range facts {
		key := f.Key()
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		s.items = append(s.items, f)
	}
}
