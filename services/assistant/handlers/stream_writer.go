// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// DataStreamWriter defines the contract for writing assistant-ui data stream
// frames to HTTP responses.
//
// # Description
//
// DataStreamWriter abstracts the assistant-ui streaming wire format, enabling
// testability and separation from HTTP response mechanics. Each frame is a
// single line with a type prefix:
//
//	0:"<text delta>"          incremental assistant text
//	2:[{...message...}]       full message snapshot (authoritative state)
//	3:"<error message>"       stream error
//	d:{"finishReason":...}    terminal frame, stream complete
//
// Deltas are advisory; the most recent snapshot frame always carries the
// complete accumulated message, so a client that drops deltas can still
// render correct state.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Assumptions
//
//   - Must be used with an http.Flusher-compatible ResponseWriter
//   - No response body has been written before the first frame
type DataStreamWriter interface {
	// WriteDelta writes a text-delta frame with the given content suffix.
	//
	// # Inputs
	//
	//   - content: New text produced since the previous delta. May be a
	//     partial word or whitespace.
	//
	// # Outputs
	//
	//   - error: Non-nil if writing failed.
	WriteDelta(content string) error

	// WriteSnapshot writes a message snapshot frame.
	//
	// # Description
	//
	// Emits the complete assistant message accumulated so far. Clients treat
	// the latest snapshot as authoritative. The thread id is included so the
	// client can associate a server-created thread with the conversation.
	//
	// # Inputs
	//
	//   - content: Full accumulated assistant text.
	//   - threadID: Thread the message belongs to. May be empty.
	//
	// # Outputs
	//
	//   - error: Non-nil if writing failed.
	WriteSnapshot(content string, threadID string) error

	// WriteError writes an error frame.
	//
	// # Inputs
	//
	//   - errMsg: Error message for the client. Sanitized; no internal details.
	//
	// # Outputs
	//
	//   - error: Non-nil if writing failed.
	WriteError(errMsg string) error

	// WriteDone writes the terminal frame indicating stream completion.
	//
	// # Description
	//
	// Should be called exactly once at the end of a successful or failed
	// stream. Never called after a client disconnect.
	//
	// # Outputs
	//
	//   - error: Non-nil if writing failed.
	WriteDone() error

	// Started reports whether any frame has been written.
	//
	// # Description
	//
	// Headers and the implicit 200 status go out with the first frame, so a
	// handler that fails before Started() returns true can still answer with
	// a plain JSON error response.
	//
	// # Outputs
	//
	//   - bool: True once the first frame has been written.
	Started() bool
}

// =============================================================================
// Struct Definition
// =============================================================================

// snapshotMessage is the JSON shape of a message snapshot frame entry.
type snapshotMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// dataStreamWriter implements DataStreamWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher interface for immediate send
//   - messageID: Stable id reused across snapshot frames for this stream
//   - headersSet: Whether streaming headers have been written
//   - mu: Mutex for thread-safe writes
//
// Headers are set lazily on the first frame so the handler can still send a
// plain JSON error response for failures that occur before streaming begins.
//
// # Thread Safety
//
// Thread-safe via mutex.
//
// # Limitations
//
//   - Cannot be reused across requests
type dataStreamWriter struct {
	writer     http.ResponseWriter
	flusher    http.Flusher
	messageID  string
	headersSet bool
	mu         sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewDataStreamWriter creates a DataStreamWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - DataStreamWriter: Ready to write frames.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	writer, err := NewDataStreamWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
//	    return
//	}
func NewDataStreamWriter(w http.ResponseWriter) (DataStreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &dataStreamWriter{
		writer:    w,
		flusher:   flusher,
		messageID: fmt.Sprintf("msg_%d", time.Now().UnixMilli()),
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteDelta writes a text-delta frame.
func (w *dataStreamWriter) WriteDelta(content string) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	return w.writeFrame("0", data)
}

// WriteSnapshot writes a message snapshot frame carrying the full
// accumulated assistant message.
func (w *dataStreamWriter) WriteSnapshot(content string, threadID string) error {
	msg := snapshotMessage{
		ID:        w.messageID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
		ThreadID:  threadID,
	}
	data, err := json.Marshal([]snapshotMessage{msg})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return w.writeFrame("2", data)
}

// WriteError writes an error frame.
func (w *dataStreamWriter) WriteError(errMsg string) error {
	data, err := json.Marshal(errMsg)
	if err != nil {
		return fmt.Errorf("marshal error frame: %w", err)
	}
	return w.writeFrame("3", data)
}

// WriteDone writes the terminal frame.
func (w *dataStreamWriter) WriteDone() error {
	payload := map[string]any{
		"finishReason": "stop",
		"usage": map[string]int{
			"promptTokens":     0,
			"completionTokens": 0,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal done frame: %w", err)
	}
	return w.writeFrame("d", data)
}

// Started reports whether the first frame (and therefore the streaming
// headers) has been written.
func (w *dataStreamWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.headersSet
}

// writeFrame writes a single "<prefix>:<payload>\n" line and flushes.
func (w *dataStreamWriter) writeFrame(prefix string, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.headersSet {
		SetDataStreamHeaders(w.writer)
		w.headersSet = true
	}

	if _, err := fmt.Fprintf(w.writer, "%s:%s\n", prefix, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Headers
// =============================================================================

// SetDataStreamHeaders sets the response headers required by assistant-ui
// data stream clients. Called automatically by dataStreamWriter before its
// first frame.
//
// # Description
//
// Sets headers before streaming begins:
//   - Content-Type: text/plain (frames are line-delimited, not SSE)
//   - x-vercel-ai-data-stream: v1 marks the data stream protocol version
//   - Cache-Control / Connection for streaming
//   - X-Accel-Buffering: no disables Nginx proxy buffering
//
// # Inputs
//
//   - w: HTTP ResponseWriter to set headers on.
//
// # Assumptions
//
//   - Called before any frame is written.
func SetDataStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("x-vercel-ai-data-stream", "v1")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Compile-time interface compliance check.
var _ DataStreamWriter = (*dataStreamWriter)(nil)
