package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/clinicalcopilot/internal/fhir"
	"github.com/xxxsen/clinicalcopilot/internal/model"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

const unknownPatientID = "unknown_patient"

type DataSummary struct {
	Conditions   int  `json:"conditions"`
	Medications  int  `json:"medications"`
	Observations int  `json:"observations"`
	Allergies    int  `json:"allergies"`
	PatientInfo  bool `json:"patient_info"`
}

type IngestResult struct {
	PatientID   string      `json:"patient_id"`
	Source      string      `json:"source,omitempty"`
	Indexed     bool        `json:"indexed"`
	IndexedItem int         `json:"indexed_items"`
	IndexError  string      `json:"index_error,omitempty"`
	Summary     DataSummary `json:"data_summary"`
}

type ReindexReport struct {
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// IngestService turns uploaded payloads into stored and indexed records.
type IngestService struct {
	ingester *fhir.Ingester
	records  *RecordService
	index    *IndexService
}

func NewIngestService(ingester *fhir.Ingester, records *RecordService, index *IndexService) *IngestService {
	return &IngestService{
		ingester: ingester,
		records:  records,
		index:    index,
	}
}

// Upload processes a bundle or simplified record, stores it under the
// derived patient id and indexes it. The record is saved and indexed under
// the patient's write lock so concurrent uploads cannot interleave. An
// indexing failure is reported in the result; the record stays saved.
func (s *IngestService) Upload(ctx context.Context, data []byte) (*IngestResult, error) {
	payload, err := unwrapJSONData(data)
	if err != nil {
		return nil, err
	}
	record, err := s.ingester.Parse(ctx, payload)
	if err != nil {
		return nil, err
	}
	patientID := derivePatientID(record)
	record.PatientID = patientID
	logger := logutil.GetLogger(ctx).With(zap.String("patient_id", patientID))

	items, prepErr := s.index.prepare(ctx, patientID, record)
	unlock := s.index.locks.Lock(patientID)
	defer unlock()
	if err := s.records.Save(ctx, patientID, record); err != nil {
		return nil, fmt.Errorf("save patient record: %w", err)
	}
	res := &IngestResult{
		PatientID: patientID,
		Summary:   summarize(record),
	}
	n := 0
	if prepErr == nil {
		n, err = s.index.replaceLocked(ctx, patientID, items)
	} else {
		s.index.markPendingLocked(ctx, patientID)
		err = prepErr
	}
	if err != nil {
		logger.Warn("index uploaded record failed", zap.Error(err))
		res.IndexError = err.Error()
		return res, nil
	}
	res.Indexed = true
	res.IndexedItem = n
	logger.Info("patient record ingested", zap.Int("chunks", n))
	return res, nil
}

// IngestDir uploads every *.json file in dir. Per-file failures are logged
// and counted; they do not stop the walk.
func (s *IngestService) IngestDir(ctx context.Context, dir string) ([]*IngestResult, int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(files)
	logger := logutil.GetLogger(ctx)
	results := make([]*IngestResult, 0, len(files))
	failed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			failed++
			logger.Error("read bundle failed", zap.String("file", file), zap.Error(err))
			continue
		}
		res, err := s.Upload(ctx, data)
		if err != nil {
			failed++
			logger.Error("ingest bundle failed", zap.String("file", file), zap.Error(err))
			continue
		}
		res.Source = filepath.Base(file)
		results = append(results, res)
	}
	return results, failed, nil
}

// Reindex rebuilds the index of every stored patient.
func (s *IngestService) Reindex(ctx context.Context) (*ReindexReport, error) {
	ids, err := s.records.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	logger := logutil.GetLogger(ctx)
	report := &ReindexReport{Total: len(ids)}
	for _, id := range ids {
		if err := s.ReindexPatient(ctx, id); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
			logger.Error("reindex patient failed", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		report.Success++
	}
	logger.Info("reindex finished", zap.Int("total", report.Total), zap.Int("success", report.Success), zap.Int("failed", report.Failed))
	return report, nil
}

// RepairMissing indexes stored patients whose collection exists but is
// empty, which is what a failed index leaves behind. Patients whose index
// was deleted have no collection and are left alone. It returns how many
// were repaired.
func (s *IngestService) RepairMissing(ctx context.Context) (int, error) {
	ids, err := s.records.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list patients: %w", err)
	}
	logger := logutil.GetLogger(ctx)
	repaired := 0
	for _, id := range ids {
		pending, err := s.index.needsRepair(ctx, id)
		if err != nil {
			logger.Warn("check patient index failed", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		if !pending {
			continue
		}
		if err := s.ReindexPatient(ctx, id); err != nil {
			logger.Warn("repair patient index failed", zap.String("patient_id", id), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}

// ReindexPatient rebuilds one patient's index from the stored record. The
// record is read again under the patient's lock; when an upload replaced it
// meanwhile, the new record is embedded instead.
func (s *IngestService) ReindexPatient(ctx context.Context, patientID string) error {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return fmt.Errorf("%w: patient id is required", appErr.ErrInvalid)
	}
	record, err := s.records.Get(ctx, patientID)
	if err != nil {
		return err
	}
	items, prepErr := s.index.prepare(ctx, patientID, record)

	unlock := s.index.locks.Lock(patientID)
	defer unlock()
	current, err := s.records.Get(ctx, patientID)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(current, record) {
		items, prepErr = s.index.prepare(ctx, patientID, current)
	}
	if prepErr != nil {
		s.index.markPendingLocked(ctx, patientID)
		return prepErr
	}
	_, err = s.index.replaceLocked(ctx, patientID, items)
	return err
}

// unwrapJSONData accepts {"jsonData": "<json text>"} as well as a plain
// JSON object.
func unwrapJSONData(data []byte) ([]byte, error) {
	var wrapper struct {
		JSONData *string `json:"jsonData"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: invalid json: %v", appErr.ErrInvalid, err)
		}
		return data, nil
	}
	if wrapper.JSONData == nil {
		return data, nil
	}
	return []byte(*wrapper.JSONData), nil
}

// derivePatientID prefers the record's own id, then the first patient's
// name.
func derivePatientID(record *model.PatientRecord) string {
	if id := strings.TrimSpace(record.PatientID); id != "" {
		return id
	}
	if demo, ok := record.PrimaryDemographic(); ok {
		if name := strings.TrimSpace(demo.Name); name != "" {
			return name
		}
	}
	return unknownPatientID
}

func summarize(record *model.PatientRecord) DataSummary {
	return DataSummary{
		Conditions:   len(record.Conditions),
		Medications:  len(record.Medications),
		Observations: len(record.Observations),
		Allergies:    len(record.Allergies),
		PatientInfo:  len(record.Patient) > 0,
	}
}
