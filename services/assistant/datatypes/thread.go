// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the assistant service.
//
// This file contains the persisted conversation types. Threads are stored as
// single documents with the full message history embedded, so a read always
// returns the whole conversation and writes are append-mostly.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. A thread's messages alternate user/assistant in steady
// state, with at most one leading system message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// summaryMaxChars bounds the derived thread summary length.
const summaryMaxChars = 100

// Message is the single tagged message type used uniformly from request
// binding through persistence to wire encoding.
type Message struct {
	Role      string    `json:"role" bson:"role" validate:"required,oneof=user assistant system"`
	Content   string    `json:"content" bson:"content" validate:"required,maxbytes"`
	Timestamp time.Time `json:"timestamp,omitempty" bson:"timestamp"`
}

// NewMessage creates a Message stamped with the current UTC time.
func NewMessage(role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Thread is one persisted conversation between a user and the assistant.
//
// Invariants:
//   - Messages is append-only during normal operation.
//   - UpdatedAt never decreases; every mutation bumps it.
//   - The document store owns the only durable copy; in-memory Thread values
//     are per-request projections and are discarded after the request.
type Thread struct {
	ThreadID      string    `json:"thread_id" bson:"thread_id"`
	UserID        string    `json:"user_id" bson:"user_id"`
	Title         string    `json:"title" bson:"title"`
	Summary       string    `json:"summary" bson:"summary"`
	SystemMessage string    `json:"system_message,omitempty" bson:"system_message,omitempty"`
	Messages      []Message `json:"messages" bson:"messages"`
	IsArchived    bool      `json:"is_archived" bson:"is_archived"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// NewThread creates an unpersisted Thread with a generated id. The system
// message is fixed at creation and never edited afterwards.
func NewThread(userID, title, systemMessage string) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ThreadID:      generateUUID(),
		UserID:        userID,
		Title:         title,
		SystemMessage: systemMessage,
		Messages:      []Message{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// LastUserMessage returns the most recent user-role message, if any.
func (t *Thread) LastUserMessage() (Message, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleUser {
			return t.Messages[i], true
		}
	}
	return Message{}, false
}

// SummaryFromText derives a thread summary from the latest user message:
// the first 100 characters, with "..." appended when truncated.
func SummaryFromText(text string) string {
	runes := []rune(text)
	if len(runes) <= summaryMaxChars {
		return text
	}
	return string(runes[:summaryMaxChars]) + "..."
}

func generateUUID() string {
	return uuid.NewString()
}
