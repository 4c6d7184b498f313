package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/model"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

const (
	defaultTopK    = 5
	fallbackReason = "Vector search not available or no indexed data found"
)

type SearchRequest struct {
	Query      string `json:"query"`
	PatientID  string `json:"patient_id"`
	NResults   int    `json:"n_results"`
	FilterType string `json:"filter_type"`
}

type CopilotService struct {
	records   *RecordService
	retriever *RetrievalService
	copilot   *ai.Copilot
	maxTopK   int
}

func NewCopilotService(records *RecordService, retriever *RetrievalService, copilot *ai.Copilot, maxTopK int) *CopilotService {
	if maxTopK <= 0 {
		maxTopK = 50
	}
	return &CopilotService{
		records:   records,
		retriever: retriever,
		copilot:   copilot,
		maxTopK:   maxTopK,
	}
}

func (s *CopilotService) normalize(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.Query == "" {
		return fmt.Errorf("%w: query is required", appErr.ErrInvalid)
	}
	if req.NResults <= 0 {
		req.NResults = defaultTopK
	}
	if req.NResults > s.maxTopK {
		req.NResults = s.maxTopK
	}
	return nil
}

// Search retrieves ranked facts for one patient.
func (s *CopilotService) Search(ctx context.Context, req SearchRequest) ([]model.SearchResult, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required for search", appErr.ErrConfiguration)
	}
	return s.retriever.Retrieve(ctx, req.Query, req.NResults, req.FilterType, req.PatientID), nil
}

// Ask answers a question about one patient. Without retrieved context it
// falls back to the stored record and sets FallbackReason.
func (s *CopilotService) Ask(ctx context.Context, req SearchRequest) (*model.CopilotResponse, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	if !s.copilot.Available() {
		return nil, fmt.Errorf("copilot: %w", ai.ErrUnavailable)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("patient_id", req.PatientID))

	var record *model.PatientRecord
	results := []model.SearchResult{}
	if req.PatientID != "" {
		r, err := s.records.Get(ctx, req.PatientID)
		switch {
		case err == nil:
			record = r
		case errors.Is(err, appErr.ErrNotFound):
			logger.Info("patient record not found, answering without record context")
		default:
			logger.Warn("load patient record failed", zap.Error(err))
		}
		results = s.retriever.Retrieve(ctx, req.Query, req.NResults, req.FilterType, req.PatientID)
	} else {
		logger.Info("no patient_id provided, skip patient search")
	}

	resp := s.copilot.Compose(ctx, req.Query, results, record)
	if len(results) == 0 {
		resp.FallbackReason = fallbackReason
	}
	logger.Info("copilot answered", zap.Int("context_used", resp.ContextUsed), zap.Bool("degraded", resp.Error != ""))
	return resp, nil
}
