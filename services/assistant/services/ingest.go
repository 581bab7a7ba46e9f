// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"
)

var ingestTracer = otel.Tracer("conversa.assistant.ingest")

const (
	// defaultChunkWords is the word-window size for chunking document text.
	defaultChunkWords = 200

	// defaultOverlapWords is carried between consecutive chunks so sentence
	// fragments at a boundary remain searchable.
	defaultOverlapWords = 40

	// defaultIngestConcurrency bounds parallel document processing.
	defaultIngestConcurrency = 4
)

// IngestionService embeds documents and upserts them into the FictionStory
// class so the augmenter has something to retrieve.
//
// Documents are processed concurrently up to a fixed limit; failures are
// reported per document rather than failing the whole batch.
type IngestionService struct {
	client       *weaviate.Client
	embedder     llm.Embedder
	chunkWords   int
	overlapWords int
	concurrency  int
}

// NewIngestionService creates an ingestion pipeline with default chunking.
func NewIngestionService(client *weaviate.Client, embedder llm.Embedder) *IngestionService {
	return &IngestionService{
		client:       client,
		embedder:     embedder,
		chunkWords:   defaultChunkWords,
		overlapWords: defaultOverlapWords,
		concurrency:  defaultIngestConcurrency,
	}
}

// Ingest chunks, embeds, and indexes each document. The returned slice is
// positionally aligned with docs; a non-empty Error field marks a document
// that could not be fully indexed.
func (s *IngestionService) Ingest(ctx context.Context, docs []datatypes.IngestionDocument) []datatypes.IngestionResult {
	ctx, span := ingestTracer.Start(ctx, "IngestionService.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("ingest.documents", len(docs)))

	results := make([]datatypes.IngestionResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			results[i] = s.ingestOne(gctx, doc)
			// Individual failures are recorded in results, not returned, so
			// one bad document does not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *IngestionService) ingestOne(ctx context.Context, doc datatypes.IngestionDocument) datatypes.IngestionResult {
	result := datatypes.IngestionResult{SourceID: doc.SourceID}

	dataType := doc.DataType
	if dataType == "" {
		dataType = datatypes.DataTypeFiction
	}

	chunks := chunkWords(doc.Content, s.chunkWords, s.overlapWords)
	for idx, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result
		}

		vector, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			slog.Error("Failed to embed document chunk",
				"source_id", doc.SourceID, "chunk", idx, "error", err)
			result.Error = fmt.Sprintf("embedding failed at chunk %d: %v", idx, err)
			return result
		}

		props := datatypes.FictionStoryProperties{
			SourceID:      doc.SourceID,
			Title:         doc.Title,
			Content:       chunk,
			SpecifiedText: doc.SpecifiedText,
			Reference:     doc.Reference,
			DataType:      dataType,
			ChunkIndex:    idx,
		}
		_, err = s.client.Data().Creator().
			WithClassName(datatypes.FictionStoryClass).
			WithProperties(props.ToMap()).
			WithVector(vector).
			Do(ctx)
		if err != nil {
			slog.Error("Failed to store document chunk",
				"source_id", doc.SourceID, "chunk", idx, "error", err)
			result.Error = fmt.Sprintf("indexing failed at chunk %d: %v", idx, err)
			return result
		}
		result.Chunks++
	}

	slog.Info("Document ingested", "source_id", doc.SourceID, "chunks", result.Chunks)
	return result
}

// chunkWords splits text into word windows of size chunkSize with overlap
// words repeated between consecutive windows. Whitespace-only text yields no
// chunks.
func chunkWords(text string, chunkSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkWords
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
