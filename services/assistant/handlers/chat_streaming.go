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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/middleware"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/observability"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/services"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatStreamHandler defines the contract for the streaming chat endpoint.
//
// # Description
//
// ChatStreamHandler processes a chat request through the full assistant
// pipeline (thread load, topic classification, optional retrieval
// augmentation, token streaming, persistence) and writes the result to the
// client as assistant-ui data stream frames.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; Gin invokes handlers
// from multiple goroutines.
type ChatStreamHandler interface {
	// HandleChatStream handles POST /api/assistant-ui/chat.
	//
	// # Description
	//
	// Validates the request, resolves the thread, and streams the assistant
	// reply. Pre-stream failures (validation, unknown thread, ownership)
	// return JSON error responses; failures after streaming has begun are
	// reported in-stream via error frames.
	//
	// # Inputs
	//
	//   - c: Gin context with a datatypes.ChatRequest JSON body.
	//
	// # Outputs
	//
	//   - 200: assistant-ui data stream (text/plain frames)
	//   - 400: invalid request body or validation failure
	//   - 401: missing authentication
	//   - 403: thread owned by a different user
	//   - 404: thread_id not found
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements ChatStreamHandler.
//
// # Fields
//
//   - turns: Turn pipeline executing the chat flow
//   - logger: Structured logger
//   - tracer: OpenTelemetry tracer for distributed tracing
type streamingChatHandler struct {
	turns  *services.TurnService
	logger *slog.Logger
	tracer trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewChatStreamHandler creates a handler for the streaming chat endpoint.
//
// # Inputs
//
//   - turns: Configured turn pipeline. Must be non-nil.
//
// # Outputs
//
//   - ChatStreamHandler: Ready to register with the router.
func NewChatStreamHandler(turns *services.TurnService) ChatStreamHandler {
	return &streamingChatHandler{
		turns:  turns,
		logger: slog.Default(),
		tracer: otel.Tracer("conversa.assistant.handlers.chat_streaming"),
	}
}

// =============================================================================
// Methods
// =============================================================================

// HandleChatStream handles POST /api/assistant-ui/chat.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	start := time.Now()
	outcome := "rejected"
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(observability.EndpointChatStream)
	}
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.StreamEnded(observability.EndpointChatStream)
			m.RecordStreamDuration(observability.EndpointChatStream, time.Since(start).Seconds(), outcome)
		}
	}()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		span.SetStatus(codes.Error, "missing auth info")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodeForbidden)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	span.SetAttributes(attribute.String("user.id", authInfo.UserID))

	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	span.SetAttributes(
		attribute.String("thread.id", req.ThreadID),
		attribute.Int("request.message_count", len(req.Messages)),
	)

	writer, err := NewDataStreamWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming setup failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sink := &meteredSink{inner: writer, start: start}

	turnReq := services.TurnRequest{
		ThreadID: req.ThreadID,
		UserID:   authInfo.UserID,
		UserText: req.LatestUserText(),
		System:   req.System,
	}

	result, runErr := h.turns.Run(ctx, turnReq, sink)

	// Thread resolution failures happen before any frame is written, so a
	// plain JSON response is still possible.
	if runErr != nil {
		switch {
		case errors.Is(runErr, store.ErrNotFound):
			span.SetStatus(codes.Error, "thread not found")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeNotFound)
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		case errors.Is(runErr, services.ErrForbidden):
			span.SetStatus(codes.Error, "thread access denied")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeForbidden)
			}
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		case errors.Is(runErr, context.Canceled):
			// Client went away mid-stream. Partial reply was persisted by
			// the turn pipeline; nothing more to write.
			span.SetAttributes(attribute.String("turn.state", string(result.State)))
			outcome = string(result.State)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(observability.EndpointChatStream)
				m.RecordTurn(observability.EndpointChatStream, string(result.State))
			}
			h.logger.Info("client disconnected mid-stream",
				"thread_id", result.ThreadID,
				"partial_chars", len(result.AssistantText))
			return
		default:
			outcome = string(services.StateFailed)
			span.RecordError(runErr)
			span.SetStatus(codes.Error, "turn failed")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
			}
			h.logger.Error("turn failed", "error", runErr, "thread_id", result.ThreadID)
			if !writer.Started() {
				// No frame went out yet, so a plain JSON response is still
				// possible. Store failures during thread load land here.
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			// Headers are already sent; best effort in-stream error.
			_ = writer.WriteError("internal error")
			_ = writer.WriteDone()
			return
		}
	}

	span.SetAttributes(
		attribute.String("turn.state", string(result.State)),
		attribute.Bool("turn.augmented", result.Augmented),
		attribute.Int("turn.tokens", sink.tokens),
	)

	outcome = string(result.State)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordTurn(observability.EndpointChatStream, string(result.State))
		m.RecordTokens(observability.EndpointChatStream, sink.tokens)
		if result.Augmented {
			m.RecordRetrieval("augmented", len(result.Matches))
		}
		if result.State == services.StateFailed {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodeLLMError)
		}
		if sink.firstToken > 0 {
			m.RecordTimeToFirstToken(observability.EndpointChatStream, sink.firstToken.Seconds())
		}
	}

	span.SetStatus(codes.Ok, "stream completed")
}

// =============================================================================
// Metered Sink
// =============================================================================

// meteredSink wraps a DataStreamWriter as a services.EventSink while counting
// tokens and measuring time to first token. Not safe for concurrent use; the
// turn pipeline delivers events sequentially.
type meteredSink struct {
	inner      DataStreamWriter
	start      time.Time
	tokens     int
	firstToken time.Duration
}

func (s *meteredSink) WriteDelta(content string) error {
	if s.tokens == 0 {
		s.firstToken = time.Since(s.start)
	}
	s.tokens++
	return s.inner.WriteDelta(content)
}

func (s *meteredSink) WriteSnapshot(msg datatypes.Message, threadID string) error {
	return s.inner.WriteSnapshot(msg.Content, threadID)
}

func (s *meteredSink) WriteError(errMsg string) error {
	return s.inner.WriteError(errMsg)
}

func (s *meteredSink) WriteDone() error {
	return s.inner.WriteDone()
}

// Compile-time interface compliance checks.
var (
	_ ChatStreamHandler  = (*streamingChatHandler)(nil)
	_ services.EventSink = (*meteredSink)(nil)
)
