package handler

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusError    = "error"

	healthCheckTimeout = 3 * time.Second
)

// Health reports the status of the engine and its dependencies.
// Any failing component degrades the overall status; the endpoint itself
// still answers 200.
func (h *RAGHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth, len(h.checks)+2)
	overall := statusHealthy
	record := func(name string, err error) {
		if err != nil {
			components[name] = ComponentHealth{Status: statusError, Error: err.Error()}
			overall = statusDegraded
			return
		}
		components[name] = ComponentHealth{Status: statusHealthy}
	}

	_, err := h.engine.Index().Stats(ctx)
	record("index", err)
	components["cache"] = ComponentHealth{Status: statusHealthy}
	if !h.engine.Cache().Stats(ctx).Enabled {
		components["cache"] = ComponentHealth{Status: "disabled"}
	}
	for _, chk := range h.checks {
		record(chk.Name, chk.Check(ctx))
	}

	httputils.WriteResponse(c, nil, &HealthResponse{
		Status:     overall,
		Timestamp:  h.now().UTC(),
		Version:    h.info.Version,
		Components: components,
	})
}

// Stats reports document, index, cache and task statistics.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.engine.SystemStats(c.Request.Context())
	if err != nil {
		httputils.WriteResponse(c, errors.ErrRAGStatsUnavailable.WithCause(err), nil)
		return
	}

	resp := &SystemStatsResponse{
		SystemStats: stats,
		Tasks: TaskStats{
			Broker:  h.orchestrator.Broker().Name(),
			Backend: h.orchestrator.Backend().Name(),
		},
	}
	if h.workerStats != nil {
		ws := h.workerStats()
		resp.Tasks.Worker = &ws
	}
	httputils.WriteResponse(c, nil, resp)
}

// Info describes the service, its models and its configuration.
func (h *RAGHandler) Info(c *gin.Context) {
	hostname, _ := os.Hostname()
	httputils.WriteResponse(c, nil, gin.H{
		"api": gin.H{
			"name":    h.info.Name,
			"version": h.info.Version,
		},
		"models":        h.info.Models,
		"configuration": h.info.Configuration,
		"system": gin.H{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
			"hostname":   hostname,
		},
	})
}

// ClearCache drops every cached answer.
func (h *RAGHandler) ClearCache(c *gin.Context) {
	ctx := c.Request.Context()
	before := h.engine.Cache().Stats(ctx)
	removed := h.engine.ClearCache(ctx)
	after := h.engine.Cache().Stats(ctx)

	httputils.WriteResponse(c, nil, &CacheClearResponse{
		Message:      "Cache cleared successfully",
		ItemsRemoved: removed,
		BytesFreed:   before.TotalSizeBytes - after.TotalSizeBytes,
		CurrentItems: after.TotalItems,
	})
}
