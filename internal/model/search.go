package model

type SearchResult struct {
	Text      string            `json:"text"`
	Type      string            `json:"type"`
	Relevance float64           `json:"relevance"`
	Distance  float64           `json:"distance"`
	Metadata  map[string]string `json:"metadata"`
}

type Citation struct {
	ID        int               `json:"id"`
	Text      string            `json:"text"`
	Type      string            `json:"type"`
	Relevance float64           `json:"relevance"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type ResponseMetadata struct {
	Model          string   `json:"model,omitempty"`
	Temperature    float32  `json:"temperature"`
	ContextSources []string `json:"context_sources,omitempty"`
	FallbackMode   bool     `json:"fallback_mode,omitempty"`
}

type CopilotResponse struct {
	Query            string            `json:"query"`
	Answer           string            `json:"answer"`
	Citations        []Citation        `json:"citations"`
	ContextUsed      int               `json:"context_used"`
	ResponseMetadata *ResponseMetadata `json:"response_metadata,omitempty"`
	Error            string            `json:"error,omitempty"`
	FallbackReason   string            `json:"fallback_reason,omitempty"`
}
