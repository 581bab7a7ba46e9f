// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/store"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"
)

var turnTracer = otel.Tracer("conversa.assistant.turn")

// ErrForbidden is returned when a caller operates on a thread owned by a
// different user.
var ErrForbidden = errors.New("thread belongs to a different user")

// FallbackAssistantText is streamed and persisted when the provider cannot
// produce any answer at all, so a failed turn still yields an assistant-role
// message rather than a bare error.
const FallbackAssistantText = "I apologize, but I'm experiencing technical difficulties. Please try again later."

// persistTimeout bounds the detached persistence pass that runs after the
// request context is gone (client disconnect or stream completion).
const persistTimeout = 30 * time.Second

// TurnState names the phases of one conversation turn.
type TurnState string

const (
	StateLoading     TurnState = "LOADING"
	StateClassifying TurnState = "CLASSIFYING"
	StateAugmenting  TurnState = "AUGMENTING"
	StateStreaming   TurnState = "STREAMING"
	StatePersisting  TurnState = "PERSISTING"
	StateDone        TurnState = "DONE"
	StateCancelled   TurnState = "CANCELLED"
	StateFailed      TurnState = "FAILED"
)

// EventSink receives the turn's stream events in emission order.
//
// Implementations write to the transport; the sink owns wire framing. Write
// errors abort the stream. The turn never calls the sink again after
// WriteDone or after the caller's context is cancelled.
type EventSink interface {
	// WriteDelta emits the new suffix text of the in-progress reply.
	WriteDelta(text string) error

	// WriteSnapshot emits the full accumulated assistant message. Consumers
	// must treat the snapshot content as authoritative and the delta as an
	// optimization, not vice versa.
	WriteSnapshot(msg datatypes.Message, threadID string) error

	// WriteError emits a terminal error frame.
	WriteError(message string) error

	// WriteDone emits the end-of-message frame.
	WriteDone() error
}

// TurnRequest describes one conversation turn.
type TurnRequest struct {
	// ThreadID selects the thread to continue. Empty creates a new thread.
	ThreadID string

	// UserID is the authenticated caller; ownership is enforced against the
	// thread's user_id.
	UserID string

	// UserText is the incoming user message.
	UserText string

	// System optionally fixes the system message of a newly created thread.
	// Ignored when continuing an existing thread.
	System string

	// Title optionally names a newly created thread. Defaults to a prefix of
	// the first message.
	Title string

	// RetrievalLimit is the top-k for augmentation; <= 0 uses the default.
	RetrievalLimit int
}

// TurnResult reports how the turn ended.
type TurnResult struct {
	ThreadID      string
	State         TurnState
	AssistantText string
	Augmented     bool
	Matches       []datatypes.RetrievalMatch
}

// TurnService runs the streaming conversation turn:
//
//	LOADING → CLASSIFYING → (AUGMENTING) → STREAMING → PERSISTING → DONE
//
// with CANCELLED reachable from any state after LOADING and FAILED from any
// state. All conversation state lives in the thread store; the service holds
// only a per-request projection and no cross-request registry of any kind.
type TurnService struct {
	store      store.ThreadStore
	llmClient  llm.LLMClient
	classifier TopicClassifier
	augmenter  RetrievalAugmenter
	params     llm.GenerationParams
}

// NewTurnService wires the turn pipeline. augmenter may be nil when no
// retrieval store is configured; classification still runs but flagged
// turns proceed without a context block.
func NewTurnService(threadStore store.ThreadStore, llmClient llm.LLMClient,
	classifier TopicClassifier, augmenter RetrievalAugmenter) *TurnService {

	return &TurnService{
		store:      threadStore,
		llmClient:  llmClient,
		classifier: classifier,
		augmenter:  augmenter,
	}
}

// Run executes one turn, emitting events to sink as tokens arrive.
//
// # Outcomes
//
//   - DONE: assistant reply streamed, persisted, Done emitted.
//   - CANCELLED: ctx was cancelled mid-stream. Accumulated partial text is
//     persisted on a detached context, no further events are emitted (there
//     is no longer a listener), and ctx.Err() is returned so cancellation
//     propagates to the transport.
//   - FAILED: load or persistence failed, or the provider failed after
//     already streaming tokens. An Error frame then Done is emitted so the
//     transport closes cleanly. No automatic retry; the caller resubmits.
//
// Errors before any event is emitted (NotFound, Forbidden) are returned
// without touching the sink so the transport can answer with a plain status
// code instead of a broken stream.
func (s *TurnService) Run(ctx context.Context, req TurnRequest, sink EventSink) (*TurnResult, error) {
	ctx, span := turnTracer.Start(ctx, "TurnService.Run")
	defer span.End()

	result := &TurnResult{State: StateLoading}

	// Step 1: Load or synthesize the thread.
	thread, isNew, err := s.loadThread(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.State = StateFailed
		return result, err
	}
	result.ThreadID = thread.ThreadID
	span.SetAttributes(
		attribute.String("thread.id", thread.ThreadID),
		attribute.Bool("thread.new", isNew),
	)

	// Step 2: Record the user message. A new thread is persisted with this
	// message immediately so a crash later still has it on record.
	userMsg := datatypes.NewMessage(datatypes.RoleUser, req.UserText)
	thread.Messages = append(thread.Messages, userMsg)
	if isNew {
		thread.Summary = datatypes.SummaryFromText(req.UserText)
		err = s.store.Create(ctx, thread)
	} else {
		err = s.store.AppendMessage(ctx, thread.ThreadID, userMsg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.State = StateFailed
		return result, s.failStream(sink, "failed to record your message")
	}

	// Step 3: Classify. Never raises; failure means no augmentation.
	result.State = StateClassifying
	augment := s.classifier.Classify(ctx, req.UserText)
	if err := ctx.Err(); err != nil {
		return s.cancelled(span, result, "")
	}

	// Step 4: Augment when flagged. Best-effort; the context block is
	// prompt-only and is never appended to the persisted messages.
	contextBlock := ""
	if augment && s.augmenter != nil {
		result.State = StateAugmenting
		contextBlock, result.Matches = s.augmenter.Augment(ctx, req.UserText, req.RetrievalLimit)
		result.Augmented = contextBlock != ""
		if err := ctx.Err(); err != nil {
			return s.cancelled(span, result, "")
		}
	}

	// Step 5: Stream the completion. Every token extends the accumulator,
	// then Delta and Snapshot are emitted in arrival order with no
	// buffering beyond immediate pass-through.
	result.State = StateStreaming
	prompt := assemblePrompt(thread, contextBlock)
	var accumulator strings.Builder
	callback := func(ev llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		switch ev.Type {
		case llm.StreamEventToken:
			accumulator.WriteString(ev.Content)
			if err := sink.WriteDelta(ev.Content); err != nil {
				return err
			}
			snapshot := datatypes.Message{
				Role:      datatypes.RoleAssistant,
				Content:   accumulator.String(),
				Timestamp: time.Now().UTC(),
			}
			return sink.WriteSnapshot(snapshot, thread.ThreadID)
		case llm.StreamEventError:
			return ev.Err
		}
		return nil
	}
	streamErr := s.llmClient.ChatStream(ctx, prompt, s.params, callback)

	// Step 6/7: Persist and finish, or handle cancellation/failure.
	switch {
	case streamErr == nil:
		// fall through to persistence below

	case errors.Is(streamErr, context.Canceled) || ctx.Err() != nil:
		return s.cancelled(span, result, accumulator.String())

	case accumulator.Len() == 0:
		// The provider produced nothing at all. Degrade to the apology text
		// so the turn still yields an assistant message, and persist it.
		slog.Error("LLM stream failed before first token, using fallback reply",
			"thread_id", thread.ThreadID, "error", streamErr)
		span.RecordError(streamErr)
		accumulator.WriteString(FallbackAssistantText)
		if err := sink.WriteDelta(FallbackAssistantText); err == nil {
			_ = sink.WriteSnapshot(datatypes.Message{
				Role:      datatypes.RoleAssistant,
				Content:   FallbackAssistantText,
				Timestamp: time.Now().UTC(),
			}, thread.ThreadID)
		}

	default:
		// Tokens already reached the client; a silent fallback would corrupt
		// the partial answer. Surface the error and stop without persisting.
		slog.Error("LLM stream failed mid-answer",
			"thread_id", thread.ThreadID,
			"accumulated_chars", accumulator.Len(),
			"error", streamErr)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		result.State = StateFailed
		return result, s.failStream(sink, "the assistant was interrupted, please resubmit")
	}

	result.State = StatePersisting
	result.AssistantText = accumulator.String()
	if err := s.persistAssistantReply(thread.ThreadID, req.UserText, result.AssistantText); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.State = StateFailed
		return result, s.failStream(sink, "failed to save the assistant's reply")
	}

	if err := sink.WriteDone(); err != nil {
		slog.Warn("Failed to write done frame", "thread_id", thread.ThreadID, "error", err)
	}
	result.State = StateDone
	return result, nil
}

// loadThread fetches the thread and enforces ownership, or synthesizes an
// unpersisted thread when no id was supplied.
func (s *TurnService) loadThread(ctx context.Context, req TurnRequest) (*datatypes.Thread, bool, error) {
	if req.ThreadID == "" {
		title := req.Title
		if title == "" {
			title = datatypes.SummaryFromText(req.UserText)
		}
		return datatypes.NewThread(req.UserID, title, req.System), true, nil
	}

	thread, err := s.store.Get(ctx, req.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, store.ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread.UserID != req.UserID {
		return nil, false, ErrForbidden
	}
	return thread, false, nil
}

// cancelled performs the best-effort partial persistence run after a client
// disconnect and propagates the cancellation. No events are emitted: the
// listener is gone.
func (s *TurnService) cancelled(span trace.Span, result *TurnResult, partial string) (*TurnResult, error) {

	result.State = StateCancelled
	result.AssistantText = partial
	span.SetAttributes(
		attribute.Bool("turn.cancelled", true),
		attribute.Int("turn.partial_chars", len(partial)),
	)
	if partial != "" {
		// Partial assistant text is never discarded silently.
		slog.Info("Client disconnected mid-stream, persisting partial reply",
			"thread_id", result.ThreadID, "partial_chars", len(partial))
		if err := s.persistAssistantReply(result.ThreadID, "", partial); err != nil {
			slog.Error("Failed to persist partial reply after cancellation",
				"thread_id", result.ThreadID, "error", err)
		}
	}
	return result, context.Canceled
}

// persistAssistantReply appends the assistant message and refreshes the
// summary. It runs on a detached context because the request context is
// typically already cancelled or about to be torn down.
//
// The message append is critical and its error propagates; the summary is
// advisory and failure only warns.
func (s *TurnService) persistAssistantReply(threadID, userText, assistantText string) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg := datatypes.NewMessage(datatypes.RoleAssistant, assistantText)
	if err := s.store.AppendMessage(ctx, threadID, msg); err != nil {
		return fmt.Errorf("failed to append assistant message: %w", err)
	}

	if userText != "" {
		if err := s.store.UpdateSummary(ctx, threadID, datatypes.SummaryFromText(userText)); err != nil {
			slog.Warn("Failed to update thread summary", "thread_id", threadID, "error", err)
		}
	}
	return nil
}

// failStream emits the Error/Done pair so the transport closes cleanly, and
// returns nil: the failure has been delivered in-stream.
func (s *TurnService) failStream(sink EventSink, message string) error {
	if err := sink.WriteError(message); err != nil {
		slog.Warn("Failed to write error frame", "error", err)
	}
	if err := sink.WriteDone(); err != nil {
		slog.Warn("Failed to write done frame after error", "error", err)
	}
	return nil
}

// assemblePrompt builds the provider message list: the thread's system
// message, then the ephemeral retrieval context, then the persisted history
// in order.
func assemblePrompt(thread *datatypes.Thread, contextBlock string) []datatypes.Message {
	prompt := make([]datatypes.Message, 0, len(thread.Messages)+2)
	if thread.SystemMessage != "" {
		prompt = append(prompt, datatypes.Message{Role: datatypes.RoleSystem, Content: thread.SystemMessage})
	}
	if contextBlock != "" {
		prompt = append(prompt, datatypes.Message{Role: datatypes.RoleSystem, Content: contextBlock})
	}
	return append(prompt, thread.Messages...)
}
