// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

var mongoTracer = otel.Tracer("conversa.store.mongo")

const (
	threadCollection = "threads"

	// Connection retry policy for EnsureConnected.
	maxConnectAttempts  = 5
	initialConnectDelay = 500 * time.Millisecond

	// Per-operation driver timeouts.
	pingTimeout    = 5 * time.Second
	connectTimeout = 5 * time.Second
)

// MongoThreadStore implements ThreadStore on MongoDB. Threads live in the
// "threads" collection, one document per conversation with the message
// history embedded.
type MongoThreadStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoThreadStore builds the store without touching the network.
// Call EnsureConnected before first use.
func NewMongoThreadStore(ctx context.Context, uri, database string) (*MongoThreadStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri must not be empty")
	}
	if database == "" {
		return nil, fmt.Errorf("mongo database must not be empty")
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to construct mongo client: %w", err)
	}
	return &MongoThreadStore{
		client:     client,
		collection: client.Database(database).Collection(threadCollection),
	}, nil
}

// EnsureConnected pings the deployment with bounded retries and exponential
// backoff. On success it also ensures the listing index exists. Exhaustion
// returns a *ConnectionError wrapping the last ping failure.
func (s *MongoThreadStore) EnsureConnected(ctx context.Context) error {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.EnsureConnected")
	defer span.End()

	delay := initialConnectDelay
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = s.client.Ping(pingCtx, readpref.Primary())
		cancel()
		if lastErr == nil {
			span.SetAttributes(attribute.Int("store.connect_attempts", attempt))
			return s.ensureIndexes(ctx)
		}
		slog.Warn("MongoDB ping failed",
			"attempt", attempt,
			"max_attempts", maxConnectAttempts,
			"error", lastErr)
		if attempt == maxConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			return &ConnectionError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return &ConnectionError{Attempts: maxConnectAttempts, Err: lastErr}
}

// ensureIndexes creates the indexes the read paths depend on. Index creation
// is idempotent on the server side.
func (s *MongoThreadStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "thread_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Serves ListByUser: equality on user_id/is_archived, sort on updated_at.
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "is_archived", Value: 1},
				{Key: "updated_at", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure thread indexes: %w", err)
	}
	return nil
}

// Get implements ThreadStore.
func (s *MongoThreadStore) Get(ctx context.Context, threadID string) (*datatypes.Thread, error) {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	var thread datatypes.Thread
	err := s.collection.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&thread)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to fetch thread %s: %w", threadID, err)
	}
	return &thread, nil
}

// Create implements ThreadStore.
func (s *MongoThreadStore) Create(ctx context.Context, thread *datatypes.Thread) error {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.Create")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", thread.ThreadID))

	if _, err := s.collection.InsertOne(ctx, thread); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create thread %s: %w", thread.ThreadID, err)
	}
	return nil
}

// AppendMessage implements ThreadStore. The $push/$set pair executes as one
// document-level atomic update, so readers never see a torn message list.
func (s *MongoThreadStore) AppendMessage(ctx context.Context, threadID string, msg datatypes.Message) error {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.AppendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("thread.id", threadID),
		attribute.String("message.role", msg.Role),
	)

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"thread_id": threadID},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to append message to thread %s: %w", threadID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSummary implements ThreadStore.
func (s *MongoThreadStore) UpdateSummary(ctx context.Context, threadID, summary string) error {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.UpdateSummary")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"thread_id": threadID},
		bson.M{"$set": bson.M{
			"summary":    summary,
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update summary for thread %s: %w", threadID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser implements ThreadStore.
func (s *MongoThreadStore) ListByUser(ctx context.Context, userID string, limit, skip int) ([]datatypes.Thread, error) {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.ListByUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int("list.limit", limit),
		attribute.Int("list.skip", skip),
	)

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx,
		bson.M{"user_id": userID, "is_archived": false}, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list threads for user %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	threads := []datatypes.Thread{}
	if err := cursor.All(ctx, &threads); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to decode threads for user %s: %w", userID, err)
	}
	return threads, nil
}

// Delete implements ThreadStore.
func (s *MongoThreadStore) Delete(ctx context.Context, threadID string) error {
	ctx, span := mongoTracer.Start(ctx, "MongoThreadStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	res, err := s.collection.DeleteOne(ctx, bson.M{"thread_id": threadID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements ThreadStore.
func (s *MongoThreadStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ ThreadStore = (*MongoThreadStore)(nil)
