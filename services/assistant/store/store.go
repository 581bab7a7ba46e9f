// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists conversation threads.
//
// The store is the only durable copy of conversation state. Callers hold
// transient per-request projections and never cache threads across requests.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

// ErrNotFound is returned when the requested thread does not exist.
var ErrNotFound = errors.New("thread not found")

// ConnectionError reports that the store could not be reached after the
// configured number of connection attempts. It wraps the last driver error.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ThreadStore is the document store adapter for conversation threads.
//
// Implementations must be safe for concurrent use. All write operations are
// idempotent-safe at the single-document level; AppendMessage must be atomic
// with respect to the message list so concurrent readers never observe a
// partially written entry.
type ThreadStore interface {
	// EnsureConnected verifies connectivity with bounded retries and
	// exponential backoff. Called once at cold start; exhaustion returns a
	// *ConnectionError rather than a raw driver error.
	EnsureConnected(ctx context.Context) error

	// Get fetches a thread by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, threadID string) (*datatypes.Thread, error)

	// Create persists a new thread document.
	Create(ctx context.Context, thread *datatypes.Thread) error

	// AppendMessage atomically appends one message to the thread's embedded
	// message list and bumps updated_at. Returns ErrNotFound when the thread
	// does not exist.
	AppendMessage(ctx context.Context, threadID string, msg datatypes.Message) error

	// UpdateSummary sets the derived summary and bumps updated_at. Summary is
	// advisory; last-write-wins under concurrent updates is acceptable.
	UpdateSummary(ctx context.Context, threadID, summary string) error

	// ListByUser returns the user's unarchived threads sorted by updated_at
	// descending, honoring limit and skip.
	ListByUser(ctx context.Context, userID string, limit, skip int) ([]datatypes.Thread, error)

	// Delete removes a thread. Returns ErrNotFound when absent.
	Delete(ctx context.Context, threadID string) error

	// Close releases the underlying connection pool.
	Close(ctx context.Context) error
}
