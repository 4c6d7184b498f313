package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/clinicalcopilot/internal/pkg/response"
)

type HealthHandler struct {
	vectorStore  string
	recordStore  string
	copilotReady bool
}

func NewHealthHandler(vectorStore, recordStore string, copilotReady bool) *HealthHandler {
	return &HealthHandler{vectorStore: vectorStore, recordStore: recordStore, copilotReady: copilotReady}
}

func (h *HealthHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{
		"status":       "healthy",
		"vector_store": h.vectorStore,
		"record_store": h.recordStore,
		"copilot":      h.copilotReady,
	})
}
