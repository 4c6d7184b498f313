package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/clinicalcopilot/internal/model"
)

const (
	noContextText      = "No specific patient data found for this query."
	noPatientDataText  = "No specific patient data available."
	fallbackObsLimit   = 5
	relevantDataHeader = "=== RELEVANT PATIENT DATA ==="
	availableHeader    = "=== AVAILABLE PATIENT DATA ==="
)

// formatContext groups results by type in first-seen order and numbers the
// lines inside each group.
func formatContext(results []model.SearchResult) string {
	if len(results) == 0 {
		return noContextText
	}
	order := make([]string, 0, 4)
	groups := make(map[string][]model.SearchResult)
	for _, r := range results {
		typ := r.Type
		if typ == "" {
			typ = "unknown"
		}
		if _, ok := groups[typ]; !ok {
			order = append(order, typ)
		}
		groups[typ] = append(groups[typ], r)
	}
	lines := []string{relevantDataHeader}
	for _, typ := range order {
		lines = append(lines, "\n"+strings.ToUpper(typ)+":")
		for i, r := range groups[typ] {
			lines = append(lines, fmt.Sprintf("  %d. %s (relevance: %.2f)", i+1, r.Text, r.Relevance))
		}
	}
	return strings.Join(lines, "\n")
}

// formatRecordContext summarizes a record when retrieval produced nothing.
func formatRecordContext(record *model.PatientRecord) string {
	if record == nil {
		return noPatientDataText
	}
	sections := []string{availableHeader}
	appendList := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		sections = append(sections, fmt.Sprintf("\n%s: %s", label, strings.Join(items, ", ")))
	}
	appendList("CONDITIONS", record.FactStrings(model.CategoryConditions))
	appendList("MEDICATIONS", record.FactStrings(model.CategoryMedications))
	appendList("ALLERGIES", record.FactStrings(model.CategoryAllergies))
	obs := record.FactStrings(model.CategoryObservations)
	if len(obs) > fallbackObsLimit {
		obs = obs[:fallbackObsLimit]
	}
	appendList("OBSERVATIONS", obs)
	if len(sections) == 1 {
		return noPatientDataText
	}
	return strings.Join(sections, "\n")
}

func buildPrompt(query string, contextText string) string {
	return fmt.Sprintf(`You are a Clinical AI Copilot assistant helping healthcare professionals analyze patient data.
Your role is to provide helpful, accurate, and evidence-based responses based on the available patient information.

IMPORTANT GUIDELINES:
- Base your response primarily on the provided patient data context
- Always indicate when you're referencing specific patient data
- Be clear about limitations and when more information might be needed
- Use medical terminology appropriately but explain complex concepts
- Never provide definitive diagnoses - suggest considerations and recommendations for healthcare providers
- If the context doesn't contain relevant information, clearly state this limitation

PATIENT DATA CONTEXT:
%s

USER QUERY: %s

Please provide a comprehensive response that:
1. Directly addresses the user's query
2. References specific patient data when relevant
3. Provides clinical insights and considerations
4. Suggests next steps or additional information that might be helpful
5. Clearly indicates the source of information (patient data vs. general medical knowledge)

Response:`, contextText, query)
}
