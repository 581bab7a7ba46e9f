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
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"
)

var augmenterTracer = otel.Tracer("conversa.assistant.augmenter")

// DefaultRetrievalLimit is the top-k used when the caller passes k <= 0.
const DefaultRetrievalLimit = 5

// retrievalContextHeader opens the context block folded into the prompt.
const retrievalContextHeader = "I found the following fiction-related information that might be helpful:\n\n"

// RetrievalAugmenter retrieves category-tagged matches for a query and
// formats them into a prompt context block.
//
// Augment is best-effort: embedding or index failures degrade to ("", nil)
// and must never fail the overall chat request. A ("", nil) return means
// "no augmentation", not an error.
type RetrievalAugmenter interface {
	Augment(ctx context.Context, query string, k int) (string, []datatypes.RetrievalMatch)
}

// WeaviateAugmenter implements RetrievalAugmenter against the FictionStory
// class: embed the query, run a NearVector search restricted to
// fiction-tagged objects, and format the survivors into a numbered block.
//
// Safe for concurrent use; the weaviate client handles connection pooling.
type WeaviateAugmenter struct {
	client   *weaviate.Client
	embedder llm.Embedder
}

// NewWeaviateAugmenter creates an augmenter over the given vector index and
// embedding provider.
func NewWeaviateAugmenter(client *weaviate.Client, embedder llm.Embedder) *WeaviateAugmenter {
	return &WeaviateAugmenter{client: client, embedder: embedder}
}

// Augment implements RetrievalAugmenter.
//
// Matches are ordered by descending similarity score with a stable sort, so
// equal scores keep the index's original ranking. Objects without a certainty
// value get score 0.0 rather than an error.
func (a *WeaviateAugmenter) Augment(ctx context.Context, query string, k int) (string, []datatypes.RetrievalMatch) {
	ctx, span := augmenterTracer.Start(ctx, "WeaviateAugmenter.Augment")
	defer span.End()

	if k <= 0 {
		k = DefaultRetrievalLimit
	}
	span.SetAttributes(attribute.Int("retrieval.k", k))

	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Query embedding failed, continuing without augmentation", "error", err)
		return "", nil
	}

	matches, err := a.search(ctx, vector, k)
	if err != nil {
		slog.Warn("Vector search failed, continuing without augmentation", "error", err)
		return "", nil
	}
	if len(matches) == 0 {
		slog.Debug("No fiction matches for query, skipping augmentation")
		return "", nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))
	return formatContextBlock(matches), matches
}

// search runs the NearVector query restricted to fiction-tagged objects.
// Older ingested data carries source_type="fiction" instead of
// data_type="FICTION", so both tags are accepted.
func (a *WeaviateAugmenter) search(ctx context.Context, vector []float32, k int) ([]datatypes.RetrievalMatch, error) {
	dataTypeFilter := filters.Where().
		WithPath([]string{datatypes.PropDataType}).
		WithOperator(filters.Equal).
		WithValueString(datatypes.DataTypeFiction)

	sourceTypeFilter := filters.Where().
		WithPath([]string{datatypes.PropSourceType}).
		WithOperator(filters.Equal).
		WithValueString("fiction")

	combinedFilter := filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{dataTypeFilter, sourceTypeFilter})

	nearVector := a.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// Certainty is requested instead of distance: it is always in [0,1]
	// regardless of the index's distance metric.
	fields := []graphql.Field{
		{Name: datatypes.PropSourceID},
		{Name: datatypes.PropTitle},
		{Name: datatypes.PropContent},
		{Name: datatypes.PropSpecifiedText},
		{Name: datatypes.PropReference},
		{Name: datatypes.PropDataType},
		{Name: datatypes.PropSourceType},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := a.client.GraphQL().Get().
		WithClassName(datatypes.FictionStoryClass).
		WithFields(fields...).
		WithWhere(combinedFilter).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.FictionStoryQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	matches := make([]datatypes.RetrievalMatch, 0, len(parsed.Get.FictionStory))
	for _, obj := range parsed.Get.FictionStory {
		// The server-side filter already restricts to fiction; this guard
		// protects against schema drift on older objects.
		if obj.DataType != datatypes.DataTypeFiction && obj.SourceType != "fiction" {
			continue
		}
		score := 0.0
		if obj.Additional.Certainty != nil {
			score = float64(*obj.Additional.Certainty)
		}
		matches = append(matches, datatypes.RetrievalMatch{
			SourceID:      obj.SourceID,
			Title:         obj.Title,
			Score:         score,
			SpecifiedText: obj.SpecifiedText,
			Content:       obj.Content,
			Reference:     obj.Reference,
		})
	}
	return matches, nil
}

// formatContextBlock renders matches into the human-readable block inserted
// as a leading system entry in the prompt. Empty quote, summary, and
// reference fields are omitted rather than rendered blank.
func formatContextBlock(matches []datatypes.RetrievalMatch) string {
	var b strings.Builder
	b.WriteString(retrievalContextHeader)
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Title)
		if m.SpecifiedText != "" {
			fmt.Fprintf(&b, "   Quote: \"%s\"\n", m.SpecifiedText)
		}
		if m.Content != "" {
			fmt.Fprintf(&b, "   Summary: %s\n", m.Content)
		}
		if m.Reference != "" {
			fmt.Fprintf(&b, "   Reference: %s\n", m.Reference)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var _ RetrievalAugmenter = (*WeaviateAugmenter)(nil)
