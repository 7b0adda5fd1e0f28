// Package router provides RAG service routing.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/validator"
)

// Register registers the RAG service routes. metricsHandler may be nil.
func Register(engine *gin.Engine, ragHandler *handler.RAGHandler, metricsHandler http.Handler) {
	logger.Info("Registering RAG routes...")

	validator.InstallGin()
	engine.NoRoute(func(c *gin.Context) {
		httputils.WriteResponse(c, errors.ErrNotFound.WithMessagef("route %s %s not found", c.Request.Method, c.Request.URL.Path), nil)
	})

	v1 := engine.Group("/api/v1")
	{
		documents := v1.Group("/documents")
		{
			documents.POST("/process", ragHandler.ProcessDocuments)
			documents.GET("/status", ragHandler.DocumentStatus)
			documents.GET("/stats", ragHandler.DocumentStatus)
			documents.POST("/clear-index", ragHandler.ClearIndex)
			documents.GET("/task/:id", ragHandler.DocumentTaskStatus)
		}

		query := v1.Group("/query")
		{
			query.POST("", ragHandler.Query)
			query.POST("/batch", ragHandler.BatchQuery)
			query.GET("/:id", ragHandler.QueryTaskStatus)
			query.DELETE("/:id", ragHandler.CancelTask)
		}

		system := v1.Group("/system")
		{
			system.GET("/health", ragHandler.Health)
			system.GET("/stats", ragHandler.Stats)
			system.GET("/info", ragHandler.Info)
			system.POST("/cache/clear", ragHandler.ClearCache)
		}
	}

	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	logger.Info("HTTP routes registered")
}
