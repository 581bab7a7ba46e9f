// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/middleware"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/observability"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ThreadHandler defines the contract for thread management endpoints.
//
// # Description
//
// ThreadHandler provides CRUD operations over conversation threads. Every
// operation is scoped to the authenticated user: reading or deleting a
// thread owned by a different user yields 403, and listings only return the
// caller's threads.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ThreadHandler interface {
	// CreateThread handles POST /api/assistant/threads.
	//
	// # Outputs
	//
	//   - 201: the created thread
	//   - 400: invalid request body
	//   - 500: store write failure
	CreateThread(c *gin.Context)

	// GetThread handles GET /api/assistant/threads/:thread_id.
	//
	// # Outputs
	//
	//   - 200: the thread with full message history
	//   - 403: thread owned by a different user
	//   - 404: unknown thread id
	GetThread(c *gin.Context)

	// ListThreads handles GET /api/assistant/threads.
	//
	// # Description
	//
	// Returns the caller's non-archived threads ordered by most recent
	// activity. Supports limit/skip pagination via query parameters.
	//
	// # Outputs
	//
	//   - 200: {"threads": [...], "limit": n, "skip": n}
	//   - 400: invalid pagination parameters
	ListThreads(c *gin.Context)

	// DeleteThread handles DELETE /api/assistant/threads/:thread_id.
	//
	// # Outputs
	//
	//   - 200: {"deleted": true}
	//   - 403: thread owned by a different user
	//   - 404: unknown thread id
	DeleteThread(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// threadHandler implements ThreadHandler on top of a ThreadStore.
type threadHandler struct {
	store  store.ThreadStore
	logger *slog.Logger
	tracer trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewThreadHandler creates a handler for the thread endpoints.
func NewThreadHandler(threadStore store.ThreadStore) ThreadHandler {
	return &threadHandler{
		store:  threadStore,
		logger: slog.Default(),
		tracer: otel.Tracer("conversa.assistant.handlers.threads"),
	}
}

// =============================================================================
// Methods
// =============================================================================

// CreateThread handles POST /api/assistant/threads.
func (h *threadHandler) CreateThread(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "CreateThread")
	defer span.End()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req datatypes.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	thread := datatypes.NewThread(authInfo.UserID, req.Title, req.SystemMessage)
	span.SetAttributes(attribute.String("thread.id", thread.ThreadID))

	if err := h.store.Create(ctx, thread); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "thread create failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodePersistence)
		}
		h.logger.Error("Failed to create thread", "error", err, "user_id", authInfo.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create thread"})
		return
	}

	c.JSON(http.StatusCreated, thread)
}

// GetThread handles GET /api/assistant/threads/:thread_id.
func (h *threadHandler) GetThread(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "GetThread")
	defer span.End()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	threadID := c.Param("thread_id")
	span.SetAttributes(attribute.String("thread.id", threadID))

	thread, err := h.loadOwned(ctx, c, threadID, authInfo.UserID)
	if err != nil {
		// Response already written by loadOwned.
		span.SetStatus(codes.Error, err.Error())
		return
	}

	c.JSON(http.StatusOK, thread)
}

// ListThreads handles GET /api/assistant/threads.
func (h *threadHandler) ListThreads(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ListThreads")
	defer span.End()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var query datatypes.ListThreadsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query parameters")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}
	query.EnsureDefaults()
	if err := query.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query parameters")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	threads, err := h.store.ListByUser(ctx, authInfo.UserID, query.Limit, query.Skip)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "thread list failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodePersistence)
		}
		h.logger.Error("Failed to list threads", "error", err, "user_id", authInfo.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list threads"})
		return
	}

	// Empty list, not null, when the user has no threads.
	if threads == nil {
		threads = []datatypes.Thread{}
	}

	span.SetAttributes(attribute.Int("threads.count", len(threads)))
	c.JSON(http.StatusOK, gin.H{
		"threads": threads,
		"limit":   query.Limit,
		"skip":    query.Skip,
	})
}

// DeleteThread handles DELETE /api/assistant/threads/:thread_id.
func (h *threadHandler) DeleteThread(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "DeleteThread")
	defer span.End()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	threadID := c.Param("thread_id")
	span.SetAttributes(attribute.String("thread.id", threadID))

	// Ownership check before delete; Delete itself is id-only.
	if _, err := h.loadOwned(ctx, c, threadID, authInfo.UserID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if err := h.store.Delete(ctx, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Raced with another delete; the thread is gone either way.
			c.JSON(http.StatusOK, gin.H{"deleted": true})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "thread delete failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodePersistence)
		}
		h.logger.Error("Failed to delete thread", "error", err, "thread_id", threadID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete thread"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// loadOwned fetches a thread and enforces ownership, writing the error
// response itself. Returns a non-nil error when a response was written.
func (h *threadHandler) loadOwned(ctx context.Context, c *gin.Context, threadID, userID string) (*datatypes.Thread, error) {
	thread, err := h.store.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointThreads, observability.ErrorCodeNotFound)
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return nil, err
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodePersistence)
		}
		h.logger.Error("Failed to load thread", "error", err, "thread_id", threadID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load thread"})
		return nil, err
	}

	if thread.UserID != userID {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointThreads, observability.ErrorCodeForbidden)
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return nil, errors.New("thread access denied")
	}

	return thread, nil
}

// Compile-time interface compliance check.
var _ ThreadHandler = (*threadHandler)(nil)
