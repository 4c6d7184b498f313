package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/clinicalcopilot/internal/pkg/errcode"
	"github.com/xxxsen/clinicalcopilot/internal/pkg/response"
	"github.com/xxxsen/clinicalcopilot/internal/service"
)

type IndexHandler struct {
	ingest *service.IngestService
	index  *service.IndexService
}

func NewIndexHandler(ingest *service.IngestService, index *service.IndexService) *IndexHandler {
	return &IndexHandler{ingest: ingest, index: index}
}

func (h *IndexHandler) Reindex(c *gin.Context) {
	ctx := c.Request.Context()
	patientID := c.Param("id")
	if err := h.ingest.ReindexPatient(ctx, patientID); err != nil {
		handleError(c, err)
		return
	}
	count, err := h.index.Count(ctx, patientID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"patient_id": patientID, "indexed_items": count})
}

func (h *IndexHandler) Delete(c *gin.Context) {
	patientID := c.Param("id")
	if err := h.index.Delete(c.Request.Context(), patientID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"patient_id": patientID})
}

func (h *IndexHandler) Rebuild(c *gin.Context) {
	report, err := h.ingest.Reindex(c.Request.Context())
	if err != nil {
		response.Error(c, errcode.ErrIndexFailed, err.Error())
		return
	}
	response.Success(c, report)
}
