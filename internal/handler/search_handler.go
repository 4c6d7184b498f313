package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/clinicalcopilot/internal/model"
	"github.com/xxxsen/clinicalcopilot/internal/pkg/errcode"
	"github.com/xxxsen/clinicalcopilot/internal/pkg/response"
	"github.com/xxxsen/clinicalcopilot/internal/service"
)

type SearchHandler struct {
	copilot *service.CopilotService
}

type searchHit struct {
	ID int `json:"id"`
	model.SearchResult
}

func NewSearchHandler(copilot *service.CopilotService) *SearchHandler {
	return &SearchHandler{copilot: copilot}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	results, err := h.copilot.Search(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	hits := make([]searchHit, 0, len(results))
	for i, r := range results {
		hits = append(hits, searchHit{ID: i + 1, SearchResult: r})
	}
	response.Success(c, gin.H{
		"query":         req.Query,
		"results":       hits,
		"total_results": len(hits),
	})
}

func (h *SearchHandler) Ask(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	resp, err := h.copilot.Ask(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, resp)
}
