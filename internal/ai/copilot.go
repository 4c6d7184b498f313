package ai

import (
	"context"
	"strings"
	"unicode"

	"github.com/xxxsen/clinicalcopilot/internal/model"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const apologyAnswer = "I apologize, but I encountered an error while processing your query. Please try again or rephrase your question."

// Copilot composes grounded answers with citations. It never returns an
// error: generation failures become a degraded response.
type Copilot struct {
	m *Manager
}

func NewCopilot(m *Manager) *Copilot {
	return &Copilot{m: m}
}

func (c *Copilot) Available() bool {
	return c != nil && c.m.HasGenerator()
}

// Compose answers query from results. With no results it falls back to a
// summary of record and reports no citations.
func (c *Copilot) Compose(ctx context.Context, query string, results []model.SearchResult, record *model.PatientRecord) *model.CopilotResponse {
	fallback := len(results) == 0
	var contextText string
	if fallback {
		contextText = formatRecordContext(record)
	} else {
		contextText = formatContext(results)
	}

	var m *Manager
	if c != nil {
		m = c.m
	}
	answer, err := m.Generate(ctx, buildPrompt(query, contextText))
	if err != nil {
		logutil.GetLogger(ctx).Error("generate copilot answer failed", zap.String("query", query), zap.Bool("fallback", fallback), zap.Error(err))
		return &model.CopilotResponse{
			Query:     query,
			Answer:    apologyAnswer,
			Citations: []model.Citation{},
			Error:     "Error generating response: " + err.Error(),
		}
	}

	meta := &model.ResponseMetadata{
		Model:       m.ModelName(),
		Temperature: m.Options().Temperature,
	}
	resp := &model.CopilotResponse{
		Query:            query,
		Answer:           answer,
		Citations:        []model.Citation{},
		ResponseMetadata: meta,
	}
	if fallback {
		meta.FallbackMode = true
		return resp
	}
	resp.Citations = citations(results)
	resp.ContextUsed = len(results)
	meta.ContextSources = make([]string, 0, len(results))
	for _, r := range results {
		meta.ContextSources = append(meta.ContextSources, r.Type)
	}
	return resp
}

func citations(results []model.SearchResult) []model.Citation {
	out := make([]model.Citation, 0, len(results))
	for i, r := range results {
		cite := model.Citation{
			ID:        i + 1,
			Text:      r.Text,
			Type:      r.Type,
			Relevance: r.Relevance,
			Source:    "Patient Data - " + titleCase(r.Type),
		}
		if len(r.Metadata) > 0 {
			cite.Metadata = r.Metadata
		}
		out = append(out, cite)
	}
	return out
}

// titleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest, so "diagnostic_reports" becomes "Diagnostic_Reports".
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
