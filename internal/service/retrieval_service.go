package service

import (
	"context"
	"math"

	"github.com/xxxsen/clinicalcopilot/internal/model"
)

type RetrievalService struct {
	index *IndexService
}

func NewRetrievalService(index *IndexService) *RetrievalService {
	return &RetrievalService{index: index}
}

// Retrieve converts raw matches into ranked results, keeping the backend
// order. Relevance is 1 - distance rounded to three decimals.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, k int, typeFilter string, patientID string) []model.SearchResult {
	if patientID == "" {
		return []model.SearchResult{}
	}
	matches := s.index.Search(ctx, patientID, query, k, typeFilter)
	results := make([]model.SearchResult, 0, len(matches))
	for _, m := range matches {
		typ := m.Metadata[model.MetaKeyType]
		if typ == "" {
			typ = "unknown"
		}
		meta := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		results = append(results, model.SearchResult{
			Text:      m.Document,
			Type:      typ,
			Relevance: round3(1 - m.Distance),
			Distance:  round3(m.Distance),
			Metadata:  meta,
		})
	}
	return results
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
