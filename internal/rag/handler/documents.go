package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/validator"
)

// ProcessDocuments loads the documents directory into the index.
// The build runs as a task unless async_processing is false.
func (h *RAGHandler) ProcessDocuments(c *gin.Context) {
	var req ProcessDocumentsRequest
	if err := bindOptional(c, &req); err != nil {
		httputils.WriteResponse(c, errors.ErrBind.WithMessage(validator.Message(err)), nil)
		return
	}
	clearExisting := boolOr(req.ClearExisting, true)

	if boolOr(req.AsyncProcessing, true) {
		h.submit(c, task.JobSpec{Kind: task.KindIndexBuild, ClearExisting: clearExisting},
			"Document processing started")
		return
	}

	res, err := h.engine.ProcessDocuments(c.Request.Context(), clearExisting, biz.NopReporter)
	if err != nil {
		ctxlog.GetLogger(c.Request.Context()).Errorw("Document processing failed", "error", err.Error())
		httputils.WriteResponse(c, indexError(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, res)
}

// DocumentStatus reports document directory and index statistics.
func (h *RAGHandler) DocumentStatus(c *gin.Context) {
	ctx := c.Request.Context()
	docs, err := h.engine.DocumentStats(ctx)
	if err != nil {
		httputils.WriteResponse(c, errors.ErrRAGStatsUnavailable.WithCause(err), nil)
		return
	}
	idx, err := h.engine.Index().Stats(ctx)
	if err != nil {
		httputils.WriteResponse(c, errors.ErrRAGStatsUnavailable.WithCause(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, &DocumentStatusResponse{Documents: docs, Index: idx})
}

// ClearIndex removes every vector from the index.
func (h *RAGHandler) ClearIndex(c *gin.Context) {
	var req ClearIndexRequest
	if err := bindOptional(c, &req); err != nil {
		httputils.WriteResponse(c, errors.ErrBind.WithMessage(validator.Message(err)), nil)
		return
	}

	if boolOr(req.AsyncProcessing, true) {
		h.submit(c, task.JobSpec{Kind: task.KindClearIndex}, "Index clearing started")
		return
	}

	res, err := h.engine.ClearIndex(c.Request.Context(), biz.NopReporter)
	if err != nil {
		ctxlog.GetLogger(c.Request.Context()).Errorw("Index clearing failed", "error", err.Error())
		httputils.WriteResponse(c, indexError(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, res)
}

// DocumentTaskStatus returns the status of an indexing task.
func (h *RAGHandler) DocumentTaskStatus(c *gin.Context) {
	h.taskStatus(c)
}
