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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

// classifierMockLLM implements llm.LLMClient for classifier testing.
type classifierMockLLM struct {
	// ChatResponse is returned by Chat.
	ChatResponse string
	// ChatError is returned by Chat.
	ChatError error
	// ChatCallCount tracks how many times Chat was called.
	ChatCallCount int
	// LastMessages stores the last messages passed to Chat.
	LastMessages []datatypes.Message
}

func (m *classifierMockLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	m.ChatCallCount++
	m.LastMessages = messages
	return m.ChatResponse, m.ChatError
}

func (m *classifierMockLLM) ChatStream(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams, callback llm.StreamCallback) error {
	return errors.New("not implemented")
}

// =============================================================================
// Tests
// =============================================================================

func TestClassifyFictionAnswers(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"plain yes", "YES", true},
		{"lowercase yes", "yes", true},
		{"yes in a sentence", "The answer is YES.", true},
		{"plain no", "NO", false},
		{"lowercase no", "no", false},
		{"unrelated output", "I cannot determine that", false},
		{"empty output", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &classifierMockLLM{ChatResponse: tt.answer}
			classifier := NewFictionClassifier(mock)

			got := classifier.Classify(context.Background(), "Tell me about Cinderella")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, mock.ChatCallCount)
		})
	}
}

func TestClassifyProviderErrorFailsClosed(t *testing.T) {
	mock := &classifierMockLLM{ChatError: errors.New("backend down")}
	classifier := NewFictionClassifier(mock)

	got := classifier.Classify(context.Background(), "Tell me about Cinderella")
	assert.False(t, got, "provider errors must not enable augmentation")
}

func TestClassifyEmptyInputSkipsProvider(t *testing.T) {
	mock := &classifierMockLLM{ChatResponse: "YES"}
	classifier := NewFictionClassifier(mock)

	assert.False(t, classifier.Classify(context.Background(), ""))
	assert.False(t, classifier.Classify(context.Background(), "   \n\t"))
	assert.Equal(t, 0, mock.ChatCallCount, "empty input must not reach the provider")
}

func TestClassifySendsFixedInstruction(t *testing.T) {
	mock := &classifierMockLLM{ChatResponse: "NO"}
	classifier := NewFictionClassifier(mock)

	classifier.Classify(context.Background(), "What's the weather like?")

	require.Len(t, mock.LastMessages, 2)
	assert.Equal(t, datatypes.RoleSystem, mock.LastMessages[0].Role)
	assert.Contains(t, mock.LastMessages[0].Content, "topic classifier")
	assert.Equal(t, datatypes.RoleUser, mock.LastMessages[1].Role)
	assert.Equal(t, "What's the weather like?", mock.LastMessages[1].Content)
}
