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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/store"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

// mockThreadStore implements store.ThreadStore in memory for turn testing.
type mockThreadStore struct {
	// Threads is the backing map keyed by thread id.
	Threads map[string]*datatypes.Thread
	// CreateCalls counts Create invocations.
	CreateCalls int
	// AppendedMessages records every AppendMessage call in order.
	AppendedMessages []datatypes.Message
	// SummaryUpdates records every UpdateSummary call in order.
	SummaryUpdates []string
	// AppendError, when set, is returned by AppendMessage.
	AppendError error
	// CreateError, when set, is returned by Create.
	CreateError error
}

func newMockThreadStore() *mockThreadStore {
	return &mockThreadStore{Threads: make(map[string]*datatypes.Thread)}
}

func (m *mockThreadStore) EnsureConnected(ctx context.Context) error { return nil }

func (m *mockThreadStore) Get(ctx context.Context, threadID string) (*datatypes.Thread, error) {
	thread, ok := m.Threads[threadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *thread
	return &copied, nil
}

func (m *mockThreadStore) Create(ctx context.Context, thread *datatypes.Thread) error {
	m.CreateCalls++
	if m.CreateError != nil {
		return m.CreateError
	}
	copied := *thread
	m.Threads[thread.ThreadID] = &copied
	return nil
}

func (m *mockThreadStore) AppendMessage(ctx context.Context, threadID string, msg datatypes.Message) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	thread, ok := m.Threads[threadID]
	if !ok {
		return store.ErrNotFound
	}
	thread.Messages = append(thread.Messages, msg)
	m.AppendedMessages = append(m.AppendedMessages, msg)
	return nil
}

func (m *mockThreadStore) UpdateSummary(ctx context.Context, threadID, summary string) error {
	m.SummaryUpdates = append(m.SummaryUpdates, summary)
	return nil
}

func (m *mockThreadStore) ListByUser(ctx context.Context, userID string, limit, skip int) ([]datatypes.Thread, error) {
	return nil, nil
}

func (m *mockThreadStore) Delete(ctx context.Context, threadID string) error { return nil }

func (m *mockThreadStore) Close(ctx context.Context) error { return nil }

// scriptedLLM implements llm.LLMClient with a fixed token script.
type scriptedLLM struct {
	// Tokens are emitted one StreamEventToken each.
	Tokens []string
	// StreamError, when set, is emitted as a StreamEventError after Tokens.
	StreamError error
	// CancelAfter cancels the context after this many tokens when Cancel is
	// set. Zero means never.
	CancelAfter int
	// Cancel is the context cancel func driven by CancelAfter.
	Cancel context.CancelFunc
	// LastPrompt stores the messages passed to ChatStream.
	LastPrompt []datatypes.Message
}

func (m *scriptedLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	return "", errors.New("not implemented")
}

func (m *scriptedLLM) ChatStream(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams, callback llm.StreamCallback) error {

	m.LastPrompt = messages
	for i, token := range m.Tokens {
		if m.CancelAfter > 0 && i == m.CancelAfter && m.Cancel != nil {
			m.Cancel()
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	if m.StreamError != nil {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventError, Err: m.StreamError}); err != nil {
			return err
		}
	}
	return nil
}

// recordingSink implements EventSink and captures everything it receives.
type recordingSink struct {
	Deltas    []string
	Snapshots []datatypes.Message
	ThreadIDs []string
	Errors    []string
	DoneCount int
}

func (s *recordingSink) WriteDelta(text string) error {
	s.Deltas = append(s.Deltas, text)
	return nil
}

func (s *recordingSink) WriteSnapshot(msg datatypes.Message, threadID string) error {
	s.Snapshots = append(s.Snapshots, msg)
	s.ThreadIDs = append(s.ThreadIDs, threadID)
	return nil
}

func (s *recordingSink) WriteError(message string) error {
	s.Errors = append(s.Errors, message)
	return nil
}

func (s *recordingSink) WriteDone() error {
	s.DoneCount++
	return nil
}

// stubClassifier returns a fixed classification.
type stubClassifier struct{ Result bool }

func (c stubClassifier) Classify(ctx context.Context, text string) bool { return c.Result }

// stubAugmenter returns a fixed context block and matches.
type stubAugmenter struct {
	Block   string
	Matches []datatypes.RetrievalMatch
	LastK   int
}

func (a *stubAugmenter) Augment(ctx context.Context, query string, k int) (string, []datatypes.RetrievalMatch) {
	a.LastK = k
	return a.Block, a.Matches
}

// newTurnFixture builds a TurnService over fresh mocks.
func newTurnFixture(t *testing.T, llmClient llm.LLMClient, classify bool,
	augmenter RetrievalAugmenter) (*TurnService, *mockThreadStore) {
	t.Helper()
	threadStore := newMockThreadStore()
	turns := NewTurnService(threadStore, llmClient, stubClassifier{Result: classify}, augmenter)
	return turns, threadStore
}

func seedThread(threadStore *mockThreadStore, userID string) *datatypes.Thread {
	thread := datatypes.NewThread(userID, "seeded", "")
	thread.Messages = append(thread.Messages, datatypes.NewMessage(datatypes.RoleUser, "earlier question"))
	threadStore.Threads[thread.ThreadID] = thread
	return thread
}

// =============================================================================
// Happy Path
// =============================================================================

func TestRunNewThreadCompletes(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"Hel", "lo", " there"}}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		UserID:   "user-1",
		UserText: "Say hello",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "Hello there", result.AssistantText)
	assert.NotEmpty(t, result.ThreadID)

	// The new thread was persisted with the user message before streaming.
	assert.Equal(t, 1, threadStore.CreateCalls)
	created := threadStore.Threads[result.ThreadID]
	require.NotNil(t, created)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, "Say hello", created.Summary)

	// Deltas concatenate to the final text and the last snapshot matches it.
	assert.Equal(t, "Hello there", strings.Join(sink.Deltas, ""))
	require.NotEmpty(t, sink.Snapshots)
	last := sink.Snapshots[len(sink.Snapshots)-1]
	assert.Equal(t, datatypes.RoleAssistant, last.Role)
	assert.Equal(t, "Hello there", last.Content)
	assert.Equal(t, result.ThreadID, sink.ThreadIDs[len(sink.ThreadIDs)-1])

	// Every token produced one snapshot carrying the prefix so far.
	require.Len(t, sink.Snapshots, 3)
	assert.Equal(t, "Hel", sink.Snapshots[0].Content)
	assert.Equal(t, "Hello", sink.Snapshots[1].Content)

	// Exactly one done frame, no error frames.
	assert.Equal(t, 1, sink.DoneCount)
	assert.Empty(t, sink.Errors)

	// The assistant reply was appended and the summary refreshed.
	require.Len(t, threadStore.AppendedMessages, 1)
	assert.Equal(t, datatypes.RoleAssistant, threadStore.AppendedMessages[0].Role)
	assert.Equal(t, "Hello there", threadStore.AppendedMessages[0].Content)
	assert.Equal(t, []string{"Say hello"}, threadStore.SummaryUpdates)
}

func TestRunExistingThreadAppendsBothMessages(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"An answer"}}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	thread := seedThread(threadStore, "user-1")
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		ThreadID: thread.ThreadID,
		UserID:   "user-1",
		UserText: "A follow-up",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, thread.ThreadID, result.ThreadID)
	assert.Equal(t, 0, threadStore.CreateCalls)

	// User message first, assistant reply second.
	require.Len(t, threadStore.AppendedMessages, 2)
	assert.Equal(t, datatypes.RoleUser, threadStore.AppendedMessages[0].Role)
	assert.Equal(t, "A follow-up", threadStore.AppendedMessages[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, threadStore.AppendedMessages[1].Role)

	// The prompt carried the persisted history plus the new message.
	var userContents []string
	for _, msg := range llmClient.LastPrompt {
		if msg.Role == datatypes.RoleUser {
			userContents = append(userContents, msg.Content)
		}
	}
	assert.Equal(t, []string{"earlier question", "A follow-up"}, userContents)
}

// =============================================================================
// Thread Resolution Errors
// =============================================================================

func TestRunUnknownThreadReturnsNotFound(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"never"}}
	turns, _ := newTurnFixture(t, llmClient, false, nil)
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		ThreadID: "b5a3c9e0-0000-4000-8000-000000000000",
		UserID:   "user-1",
		UserText: "hello",
	}, sink)

	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, StateFailed, result.State)

	// The sink was never touched so the caller can still answer 404.
	assert.Empty(t, sink.Deltas)
	assert.Empty(t, sink.Errors)
	assert.Zero(t, sink.DoneCount)
}

func TestRunForeignThreadReturnsForbidden(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"never"}}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	thread := seedThread(threadStore, "owner")
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		ThreadID: thread.ThreadID,
		UserID:   "intruder",
		UserText: "hello",
	}, sink)

	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, sink.Deltas)
	assert.Zero(t, sink.DoneCount)
}

// =============================================================================
// Augmentation
// =============================================================================

func TestRunAugmentedTurnInjectsContext(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"It is a fairy tale."}}
	augmenter := &stubAugmenter{
		Block:   "I found the following fiction-related information that might be helpful:\n\n1. Cinderella\n",
		Matches: []datatypes.RetrievalMatch{{Title: "Cinderella", Score: 0.91}},
	}
	turns, threadStore := newTurnFixture(t, llmClient, true, augmenter)
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		UserID:         "user-1",
		UserText:       "Tell me about Cinderella",
		RetrievalLimit: 3,
	}, sink)

	require.NoError(t, err)
	assert.True(t, result.Augmented)
	assert.Equal(t, augmenter.Matches, result.Matches)
	assert.Equal(t, 3, augmenter.LastK)

	// The context block rides in the prompt as a system entry but is never
	// persisted into the thread.
	require.NotEmpty(t, llmClient.LastPrompt)
	assert.Equal(t, datatypes.RoleSystem, llmClient.LastPrompt[0].Role)
	assert.Contains(t, llmClient.LastPrompt[0].Content, "Cinderella")
	for _, msg := range threadStore.Threads[result.ThreadID].Messages {
		assert.NotContains(t, msg.Content, "fiction-related information")
	}
}

func TestRunClassifierFalseSkipsAugmenter(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"42"}}
	augmenter := &stubAugmenter{Block: "should not appear"}
	turns, _ := newTurnFixture(t, llmClient, false, augmenter)
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		UserID:   "user-1",
		UserText: "What's 6 times 7?",
	}, sink)

	require.NoError(t, err)
	assert.False(t, result.Augmented)
	assert.Zero(t, augmenter.LastK, "augmenter must not be consulted")
}

func TestRunNilAugmenterIsSafe(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"ok"}}
	turns, _ := newTurnFixture(t, llmClient, true, nil)
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		UserID:   "user-1",
		UserText: "Tell me a story",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.False(t, result.Augmented)
}

// =============================================================================
// Cancellation
// =============================================================================

func TestRunCancellationPersistsPartialReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llmClient := &scriptedLLM{
		Tokens:      []string{"Once ", "upon ", "a ", "time"},
		CancelAfter: 2,
		Cancel:      cancel,
	}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	sink := &recordingSink{}

	result, err := turns.Run(ctx, TurnRequest{
		UserID:   "user-1",
		UserText: "Tell me a story",
	}, sink)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, "Once upon ", result.AssistantText)

	// Exactly the delivered tokens were streamed; nothing after the cancel.
	assert.Equal(t, []string{"Once ", "upon "}, sink.Deltas)

	// No terminal frames after a disconnect: the listener is gone.
	assert.Zero(t, sink.DoneCount)
	assert.Empty(t, sink.Errors)

	// The partial text was persisted as a normal assistant message.
	require.Len(t, threadStore.AppendedMessages, 1)
	assert.Equal(t, datatypes.RoleAssistant, threadStore.AppendedMessages[0].Role)
	assert.Equal(t, "Once upon ", threadStore.AppendedMessages[0].Content)

	// The summary is not rewritten during the cancellation pass.
	assert.Empty(t, threadStore.SummaryUpdates)
}

func TestRunCancellationWithNoTokensPersistsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llmClient := &scriptedLLM{Tokens: []string{"never"}}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	sink := &recordingSink{}

	result, err := turns.Run(ctx, TurnRequest{
		UserID:   "user-1",
		UserText: "Tell me a story",
	}, sink)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, result.State)
	assert.Empty(t, result.AssistantText)
	assert.Empty(t, threadStore.AppendedMessages)
}

// =============================================================================
// Provider Failures
// =============================================================================

func TestRunProviderFailureBeforeFirstTokenFallsBack(t *testing.T) {
	llmClient := &scriptedLLM{StreamError: errors.New("backend exploded")}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		UserID:   "user-1",
		UserText: "hello",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, FallbackAssistantText, result.AssistantText)

	// The apology was streamed like a normal reply and then persisted.
	assert.Equal(t, []string{FallbackAssistantText}, sink.Deltas)
	assert.Equal(t, 1, sink.DoneCount)
	require.Len(t, threadStore.AppendedMessages, 1)
	assert.Equal(t, FallbackAssistantText, threadStore.AppendedMessages[0].Content)
}

func TestRunProviderFailureMidStreamFailsWithoutPersisting(t *testing.T) {
	llmClient := &scriptedLLM{
		Tokens:      []string{"Once upon"},
		StreamError: errors.New("backend exploded"),
	}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	thread := seedThread(threadStore, "user-1")
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		ThreadID: thread.ThreadID,
		UserID:   "user-1",
		UserText: "Tell me a story",
	}, sink)

	require.NoError(t, err, "in-stream failures are delivered via frames, not errors")
	assert.Equal(t, StateFailed, result.State)

	// Error frame then done frame so the client closes cleanly.
	require.Len(t, sink.Errors, 1)
	assert.Equal(t, 1, sink.DoneCount)

	// The truncated answer is not persisted; only the user message was
	// appended.
	require.Len(t, threadStore.AppendedMessages, 1)
	assert.Equal(t, datatypes.RoleUser, threadStore.AppendedMessages[0].Role)
}

func TestRunCreateFailureFailsStream(t *testing.T) {
	llmClient := &scriptedLLM{Tokens: []string{"never"}}
	turns, threadStore := newTurnFixture(t, llmClient, false, nil)
	threadStore.CreateError = errors.New("mongo down")
	sink := &recordingSink{}

	result, err := turns.Run(context.Background(), TurnRequest{
		UserID:   "user-1",
		UserText: "hello",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	require.Len(t, sink.Errors, 1)
	assert.Equal(t, 1, sink.DoneCount)
	assert.Empty(t, sink.Deltas)
}

// =============================================================================
// Prompt Assembly
// =============================================================================

func TestAssemblePromptOrdering(t *testing.T) {
	thread := datatypes.NewThread("user-1", "t", "You are terse.")
	thread.Messages = append(thread.Messages,
		datatypes.NewMessage(datatypes.RoleUser, "q1"),
		datatypes.NewMessage(datatypes.RoleAssistant, "a1"),
	)

	prompt := assemblePrompt(thread, "retrieved context")

	require.Len(t, prompt, 4)
	assert.Equal(t, datatypes.RoleSystem, prompt[0].Role)
	assert.Equal(t, "You are terse.", prompt[0].Content)
	assert.Equal(t, "retrieved context", prompt[1].Content)
	assert.Equal(t, "q1", prompt[2].Content)
	assert.Equal(t, "a1", prompt[3].Content)
}

func TestAssemblePromptWithoutSystemOrContext(t *testing.T) {
	thread := datatypes.NewThread("user-1", "t", "")
	thread.Messages = append(thread.Messages, datatypes.NewMessage(datatypes.RoleUser, "q1"))

	prompt := assemblePrompt(thread, "")

	require.Len(t, prompt, 1)
	assert.Equal(t, "q1", prompt[0].Content)
}
