// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the assistant service.
//
// This file contains request types for the chat and thread endpoints.
// For persisted conversation types, see thread.go. For retrieval types,
// see retrieval.go.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Request Size Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Checked in bytes, not runes, to bound memory per request.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100

	// MaxTitleLength is the maximum length of a thread title.
	MaxTitleLength = 256
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for assistant datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Byte length is used rather than rune count so
// multi-byte payloads cannot exceed the memory bound.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest represents the streaming chat request body.
//
// # Description
//
// ChatRequest carries the client's view of the conversation for one turn on
// the POST /api/assistant-ui/chat endpoint. When ThreadID is empty a new
// thread is created and its id is announced in the first data frame of the
// response stream. Only the final message (which must be user-role) is acted
// on; earlier entries are the client's rendering state and are ignored in
// favor of the persisted history.
//
// # Fields
//
//   - ThreadID: Optional. Existing thread to continue. Empty creates a thread.
//     No format constraint; an id the store does not recognize is a 404, the
//     same as on the thread endpoints.
//   - Messages: Required. 1-100 messages; the last must have role "user".
//     Content is limited to 32KB per message.
//   - System: Optional. System prompt fixed at thread creation. Ignored for
//     existing threads (the persisted system message wins).
//
// # Validation
//
// Uses go-playground/validator:
//   - Messages: required, 1-100 elements, each element validated
//   - Messages[].Content: max 32768 bytes
//   - System: max 32768 bytes
type ChatRequest struct {
	ThreadID string    `json:"thread_id,omitempty"`
	Messages []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	System   string    `json:"system,omitempty" validate:"omitempty,maxbytes"`
}

// Validate validates the ChatRequest fields plus the last-message-is-user
// rule that validator tags cannot express.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return fmt.Errorf("last message must have role %q, got %q", RoleUser, last.Role)
	}
	return nil
}

// LatestUserText returns the content of the final message. Only valid after
// Validate() has passed.
func (r *ChatRequest) LatestUserText() string {
	return r.Messages[len(r.Messages)-1].Content
}

// =============================================================================
// Thread Request Types
// =============================================================================

// CreateThreadRequest creates an empty thread without starting a turn.
type CreateThreadRequest struct {
	Title         string `json:"title" validate:"required,min=1,max=256"`
	SystemMessage string `json:"system_message,omitempty" validate:"omitempty,maxbytes"`
}

// Validate validates the CreateThreadRequest fields.
func (r *CreateThreadRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ListThreadsQuery holds pagination for thread listing. Defaults are applied
// by EnsureDefaults, bounds enforced by validator tags.
type ListThreadsQuery struct {
	Limit int `form:"limit" validate:"gte=0,lte=100"`
	Skip  int `form:"skip" validate:"gte=0"`
}

// Validate validates the ListThreadsQuery fields.
func (q *ListThreadsQuery) Validate() error {
	return chatValidate.Struct(q)
}

// EnsureDefaults populates default values for optional fields.
func (q *ListThreadsQuery) EnsureDefaults() {
	if q.Limit == 0 {
		q.Limit = 20
	}
}
