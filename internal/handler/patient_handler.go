package handler

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/clinicalcopilot/internal/pkg/errcode"
	"github.com/xxxsen/clinicalcopilot/internal/pkg/response"
	"github.com/xxxsen/clinicalcopilot/internal/service"
)

const defaultMaxUploadBytes int64 = 32 * 1024 * 1024

type PatientHandler struct {
	ingest         *service.IngestService
	records        *service.RecordService
	maxUploadBytes int64
}

func NewPatientHandler(ingest *service.IngestService, records *service.RecordService, maxUploadBytes int64) *PatientHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &PatientHandler{ingest: ingest, records: records, maxUploadBytes: maxUploadBytes}
}

// Upload accepts either a raw JSON body or a multipart "file" field.
func (h *PatientHandler) Upload(c *gin.Context) {
	data, ok := h.readUpload(c)
	if !ok {
		return
	}
	res, err := h.ingest.Upload(c.Request.Context(), data)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *PatientHandler) readUpload(c *gin.Context) ([]byte, bool) {
	tooLarge := "file too large, max " + formatUploadLimit(h.maxUploadBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("file")
		if err != nil {
			response.Error(c, errcode.ErrInvalid, "file is required")
			return nil, false
		}
		if !strings.EqualFold(filepath.Ext(file.Filename), ".json") {
			response.Error(c, errcode.ErrInvalid, "only json files are supported")
			return nil, false
		}
		if file.Size > h.maxUploadBytes {
			response.Error(c, errcode.ErrInvalid, tooLarge)
			return nil, false
		}
		opened, err := file.Open()
		if err != nil {
			response.Error(c, errcode.ErrInvalid, "failed to open file")
			return nil, false
		}
		defer opened.Close()
		data, err := io.ReadAll(opened)
		if err != nil {
			response.Error(c, errcode.ErrInvalid, "failed to read file")
			return nil, false
		}
		return data, true
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes))
	if err != nil {
		response.Error(c, errcode.ErrInvalid, tooLarge)
		return nil, false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		response.Error(c, errcode.ErrInvalid, "empty body")
		return nil, false
	}
	return data, true
}

func (h *PatientHandler) List(c *gin.Context) {
	patients, err := h.records.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"patients": patients, "total": len(patients)})
}

func (h *PatientHandler) Get(c *gin.Context) {
	demo, err := h.records.Demographic(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, demo)
}

func (h *PatientHandler) Vitals(c *gin.Context) {
	vitals, err := h.records.Vitals(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"vitals": vitals})
}

func (h *PatientHandler) Labs(c *gin.Context) {
	labs, err := h.records.Labs(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"labs": labs})
}

func (h *PatientHandler) Conditions(c *gin.Context) {
	items, err := h.records.Conditions(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"conditions": items})
}

func (h *PatientHandler) Medications(c *gin.Context) {
	items, err := h.records.Medications(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"medications": items})
}

func (h *PatientHandler) Allergies(c *gin.Context) {
	items, err := h.records.Allergies(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"allergies": items})
}

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	return fmt.Sprintf("%dMB", (bytes+mb-1)/mb)
}
