// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the assistant's domain logic: topic
// classification, retrieval augmentation, the streaming turn pipeline, and
// document ingestion.
package services

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"
)

var classifierTracer = otel.Tracer("conversa.assistant.classifier")

// fictionClassifierPrompt is the fixed instruction for the topic check.
// The model is asked for a strict YES/NO; the match below is a permissive
// substring check to tolerate verbose model output.
const fictionClassifierPrompt = "You are a topic classifier. Determine if the user's message is about " +
	"fiction (novels, stories, fairy tales, etc.). Respond with only 'YES' if it's about fiction " +
	"or 'NO' if it's not."

// TopicClassifier decides whether a user message belongs to the
// retrieval-augmented category.
//
// Classify never returns an error: classification failure must never abort
// the chat, so implementations absorb provider failures and answer false
// (fail-closed).
type TopicClassifier interface {
	Classify(ctx context.Context, text string) bool
}

// FictionClassifier labels messages as fiction-related using one extra
// completion call.
type FictionClassifier struct {
	llmClient llm.LLMClient
}

// NewFictionClassifier creates a classifier backed by the given LLM client.
func NewFictionClassifier(llmClient llm.LLMClient) *FictionClassifier {
	return &FictionClassifier{llmClient: llmClient}
}

// Classify implements TopicClassifier.
//
// Empty input returns false without calling the provider. Any provider error
// is logged and treated as false, so on doubt augmentation is skipped rather
// than blocking the conversation.
func (c *FictionClassifier) Classify(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	ctx, span := classifierTracer.Start(ctx, "FictionClassifier.Classify")
	defer span.End()

	maxTokens := 8
	temperature := float32(0.0)
	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: fictionClassifierPrompt},
		{Role: datatypes.RoleUser, Content: text},
	}
	answer, err := c.llmClient.Chat(ctx, messages, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		// Fail closed: a broken classifier must not break the turn.
		slog.Warn("Topic classification failed, skipping augmentation", "error", err)
		span.SetAttributes(attribute.Bool("classifier.failed", true))
		return false
	}

	isFiction := strings.Contains(strings.ToUpper(answer), "YES")
	span.SetAttributes(attribute.Bool("classifier.fiction", isFiction))
	slog.Debug("Topic classification complete", "fiction", isFiction)
	return isFiction
}

var _ TopicClassifier = (*FictionClassifier)(nil)
