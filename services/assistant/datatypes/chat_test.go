// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func validChatRequest(t *testing.T) ChatRequest {
	t.Helper()
	return ChatRequest{
		ThreadID: uuid.New().String(),
		Messages: []Message{
			NewMessage(RoleUser, "Tell me about fairy tales"),
		},
	}
}

// =============================================================================
// ChatRequest Validation
// =============================================================================

func TestChatRequestValid(t *testing.T) {
	req := validChatRequest(t)
	assert.NoError(t, req.Validate())
}

func TestChatRequestEmptyThreadIDAllowed(t *testing.T) {
	req := validChatRequest(t)
	req.ThreadID = ""
	assert.NoError(t, req.Validate(), "empty thread_id creates a new thread")
}

func TestChatRequestNonUUIDThreadIDAllowed(t *testing.T) {
	// Unknown ids resolve to a 404 at the store, so the request itself puts
	// no format constraint on them.
	req := validChatRequest(t)
	req.ThreadID = "not-a-uuid"
	assert.NoError(t, req.Validate())
}

func TestChatRequestNoMessages(t *testing.T) {
	req := validChatRequest(t)
	req.Messages = nil
	assert.Error(t, req.Validate())
}

func TestChatRequestTooManyMessages(t *testing.T) {
	req := validChatRequest(t)
	req.Messages = make([]Message, MaxMessagesPerRequest+1)
	for i := range req.Messages {
		req.Messages[i] = NewMessage(RoleUser, "m")
	}
	assert.Error(t, req.Validate())
}

func TestChatRequestLastMessageMustBeUser(t *testing.T) {
	req := validChatRequest(t)
	req.Messages = append(req.Messages, NewMessage(RoleAssistant, "an answer"))

	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last message")
}

func TestChatRequestContentTooLarge(t *testing.T) {
	req := validChatRequest(t)
	req.Messages[0].Content = strings.Repeat("a", MaxMessageContentBytes+1)
	assert.Error(t, req.Validate())
}

func TestChatRequestContentAtLimit(t *testing.T) {
	req := validChatRequest(t)
	req.Messages[0].Content = strings.Repeat("a", MaxMessageContentBytes)
	assert.NoError(t, req.Validate())
}

func TestChatRequestInvalidRole(t *testing.T) {
	req := validChatRequest(t)
	req.Messages[0].Role = "operator"
	assert.Error(t, req.Validate())
}

func TestLatestUserText(t *testing.T) {
	req := ChatRequest{
		Messages: []Message{
			NewMessage(RoleUser, "first"),
			NewMessage(RoleAssistant, "reply"),
			NewMessage(RoleUser, "second"),
		},
	}
	require.NoError(t, req.Validate())
	assert.Equal(t, "second", req.LatestUserText())
}

// =============================================================================
// Thread Request Types
// =============================================================================

func TestCreateThreadRequestValidation(t *testing.T) {
	req := CreateThreadRequest{Title: "My Thread"}
	assert.NoError(t, req.Validate())

	req.Title = ""
	assert.Error(t, req.Validate())

	req.Title = strings.Repeat("t", MaxTitleLength+1)
	assert.Error(t, req.Validate())
}

func TestListThreadsQueryDefaults(t *testing.T) {
	q := ListThreadsQuery{}
	q.EnsureDefaults()
	assert.Equal(t, 20, q.Limit)
	assert.Equal(t, 0, q.Skip)
	assert.NoError(t, q.Validate())
}

func TestListThreadsQueryBounds(t *testing.T) {
	q := ListThreadsQuery{Limit: 101}
	assert.Error(t, q.Validate())

	q = ListThreadsQuery{Limit: 10, Skip: -1}
	assert.Error(t, q.Validate())
}
