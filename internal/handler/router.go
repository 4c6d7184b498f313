package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/clinicalcopilot/internal/middleware"
)

type RouterDeps struct {
	Health           *HealthHandler
	Patients         *PatientHandler
	Index            *IndexHandler
	Search           *SearchHandler
	CopilotRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Health)

	api.POST("/patients", deps.Patients.Upload)
	api.GET("/patients", deps.Patients.List)
	api.GET("/patients/:id", deps.Patients.Get)
	api.GET("/patients/:id/vitals", deps.Patients.Vitals)
	api.GET("/patients/:id/labs", deps.Patients.Labs)
	api.GET("/patients/:id/conditions", deps.Patients.Conditions)
	api.GET("/patients/:id/medications", deps.Patients.Medications)
	api.GET("/patients/:id/allergies", deps.Patients.Allergies)

	api.POST("/patients/:id/index", deps.Index.Reindex)
	api.DELETE("/patients/:id/index", deps.Index.Delete)
	api.POST("/index/rebuild", deps.Index.Rebuild)

	api.POST("/search", deps.Search.Search)
	api.POST("/copilot", middleware.RateLimit(deps.CopilotRateLimit), deps.Search.Ask)
}
