// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName(FictionStoryClass).Do(ctx)
//	if err != nil { ... }
//	parsed, err := ParseGraphQLResponse[FictionStoryQueryResponse](resp)
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL query returned error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// FictionStory Query Types
// =============================================================================

// FictionStoryQueryResponse represents the response from querying the
// FictionStory class.
type FictionStoryQueryResponse struct {
	Get struct {
		FictionStory []FictionStoryResult `json:"FictionStory"`
	} `json:"Get"`
}

// FictionStoryResult represents a single FictionStory object from a query.
type FictionStoryResult struct {
	SourceID      string `json:"source_id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	SpecifiedText string `json:"specified_text"`
	Reference     string `json:"reference"`
	DataType      string `json:"data_type"`
	SourceType    string `json:"source_type"`
	Additional    struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// FictionStoryProperties represents the properties for creating a
// FictionStory object.
type FictionStoryProperties struct {
	SourceID      string `json:"source_id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	SpecifiedText string `json:"specified_text"`
	Reference     string `json:"reference"`
	DataType      string `json:"data_type"`
	SourceType    string `json:"source_type"`
	ChunkIndex    int    `json:"chunk_index"`
}

// ToMap converts FictionStoryProperties to the map format required by
// Weaviate's WithProperties() method.
func (p *FictionStoryProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		PropSourceID:      p.SourceID,
		PropTitle:         p.Title,
		PropContent:       p.Content,
		PropSpecifiedText: p.SpecifiedText,
		PropReference:     p.Reference,
		PropDataType:      p.DataType,
		PropSourceType:    p.SourceType,
		PropChunkIndex:    p.ChunkIndex,
	}
}

// =============================================================================
// Schema
// =============================================================================

func GetFictionStorySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       FictionStoryClass,
		Description: "An embedded excerpt of a fiction work used for retrieval augmentation.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            PropSourceID,
				DataType:        []string{"text"},
				Description:     "Identifier of the source document this chunk came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         PropTitle,
				DataType:     []string{"text"},
				Description:  "Title of the fiction work.",
				Tokenization: "word",
			},
			{
				Name:         PropContent,
				DataType:     []string{"text"},
				Description:  "Summary or chunk text of the work.",
				Tokenization: "word",
			},
			{
				Name:         PropSpecifiedText,
				DataType:     []string{"text"},
				Description:  "A representative quote from the work.",
				Tokenization: "word",
			},
			{
				Name:        PropReference,
				DataType:    []string{"text"},
				Description: "Citation or URL for the work.",
			},
			{
				Name:            PropDataType,
				DataType:        []string{"text"},
				Description:     "Category tag, e.g. FICTION. Drives retrieval filtering.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            PropSourceType,
				DataType:        []string{"text"},
				Description:     "Legacy category tag kept for older ingested data.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            PropChunkIndex,
				DataType:        []string{"int"},
				Description:     "Position of this chunk within the source document.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the FictionStory class if it does not exist.
// Returns an error instead of exiting so callers decide whether a missing
// vector index is fatal.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	class := GetFictionStorySchema()
	slog.Info("Checking schema", "class", class.Class)

	_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
	if err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	// The client returns an error when the class is absent. Create it.
	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
