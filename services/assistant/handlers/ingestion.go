// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/observability"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// IngestionHandler defines the contract for the document ingestion endpoint.
//
// # Description
//
// IngestionHandler accepts batches of fiction documents, chunks and embeds
// them, and writes the vectors to the retrieval store. Per-document failures
// are reported in the response rather than failing the batch.
type IngestionHandler interface {
	// HandleIngest handles POST /api/ingestion/documents.
	//
	// # Outputs
	//
	//   - 200: {"results": [...]} with per-document chunk counts and errors
	//   - 400: invalid request body or validation failure
	//   - 503: retrieval store not configured
	HandleIngest(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// ingestionHandler implements IngestionHandler.
type ingestionHandler struct {
	ingestion *services.IngestionService
	logger    *slog.Logger
	tracer    trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewIngestionHandler creates a handler for the ingestion endpoint.
// ingestion may be nil when the retrieval store is unavailable; the handler
// then responds 503 to every request.
func NewIngestionHandler(ingestion *services.IngestionService) IngestionHandler {
	return &ingestionHandler{
		ingestion: ingestion,
		logger:    slog.Default(),
		tracer:    otel.Tracer("conversa.assistant.handlers.ingestion"),
	}
}

// =============================================================================
// Methods
// =============================================================================

// HandleIngest handles POST /api/ingestion/documents.
func (h *ingestionHandler) HandleIngest(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleIngest")
	defer span.End()

	if h.ingestion == nil {
		span.SetStatus(codes.Error, "retrieval store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document ingestion is unavailable"})
		return
	}

	var req datatypes.IngestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointIngestion, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointIngestion, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	span.SetAttributes(attribute.Int("ingestion.document_count", len(req.Documents)))

	results := h.ingestion.Ingest(ctx, req.Documents)

	failures := 0
	for _, r := range results {
		ok := r.Error == ""
		if !ok {
			failures++
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordIngestedDocument(ok)
		}
	}
	span.SetAttributes(attribute.Int("ingestion.failures", failures))
	if failures > 0 {
		h.logger.Warn("Ingestion completed with failures",
			"documents", len(results), "failures", failures)
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Compile-time interface compliance check.
var _ IngestionHandler = (*ingestionHandler)(nil)
