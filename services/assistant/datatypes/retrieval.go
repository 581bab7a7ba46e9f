// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// FictionStoryClass is the weaviate class holding ingested fiction excerpts.
const FictionStoryClass = "FictionStory"

// Property names on FictionStoryClass.
const (
	PropSourceID      = "source_id"
	PropTitle         = "title"
	PropContent       = "content"
	PropSpecifiedText = "specified_text"
	PropReference     = "reference"
	PropDataType      = "data_type"
	PropSourceType    = "source_type"
	PropChunkIndex    = "chunk_index"
)

// DataTypeFiction marks objects eligible for fiction retrieval.
const DataTypeFiction = "FICTION"

// RetrievalMatch is one ranked result from the vector index. Ephemeral:
// produced per request, folded into the prompt as text, never persisted.
type RetrievalMatch struct {
	SourceID      string  `json:"source_id"`
	Title         string  `json:"title"`
	Score         float64 `json:"similarity_score"`
	SpecifiedText string  `json:"specified_text"`
	Content       string  `json:"content"`
	Reference     string  `json:"reference"`
}

// IngestionDocument is one document submitted for embedding and indexing.
type IngestionDocument struct {
	SourceID      string `json:"source_id" validate:"required,min=1,max=256"`
	Title         string `json:"title" validate:"required,min=1,max=512"`
	Content       string `json:"content" validate:"required,maxbytes"`
	SpecifiedText string `json:"specified_text,omitempty" validate:"omitempty,maxbytes"`
	Reference     string `json:"reference,omitempty" validate:"omitempty,max=1024"`
	DataType      string `json:"data_type,omitempty" validate:"omitempty,oneof=FICTION GENERAL"`
}

// IngestionRequest is the body for POST /api/ingestion/documents.
type IngestionRequest struct {
	Documents []IngestionDocument `json:"documents" validate:"required,min=1,max=50,dive"`
}

// Validate validates the IngestionRequest fields.
func (r *IngestionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// IngestionResult reports how a single document fared during ingestion.
type IngestionResult struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}
