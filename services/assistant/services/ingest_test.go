// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestChunkWordsShortTextSingleChunk(t *testing.T) {
	chunks := chunkWords("a short story about a fox", 200, 40)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short story about a fox", chunks[0])
}

func TestChunkWordsEmptyText(t *testing.T) {
	assert.Nil(t, chunkWords("", 200, 40))
	assert.Nil(t, chunkWords("   \n \t ", 200, 40))
}

func TestChunkWordsOverlap(t *testing.T) {
	text := makeWords(10)
	chunks := chunkWords(text, 4, 2)

	// Step of 2: windows [0,4) [2,6) [4,8) [6,10)
	require.Len(t, chunks, 4)
	assert.Equal(t, "w0 w1 w2 w3", chunks[0])
	assert.Equal(t, "w2 w3 w4 w5", chunks[1])
	assert.Equal(t, "w6 w7 w8 w9", chunks[3])
}

func TestChunkWordsExactMultiple(t *testing.T) {
	text := makeWords(8)
	chunks := chunkWords(text, 4, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, "w0 w1 w2 w3", chunks[0])
	assert.Equal(t, "w4 w5 w6 w7", chunks[1])
}

func TestChunkWordsInvalidOverlapDisabled(t *testing.T) {
	// Overlap >= chunk size would loop forever; it falls back to zero.
	text := makeWords(6)
	chunks := chunkWords(text, 3, 3)

	require.Len(t, chunks, 2)
	assert.Equal(t, "w0 w1 w2", chunks[0])
	assert.Equal(t, "w3 w4 w5", chunks[1])
}

func TestChunkWordsNormalizesWhitespace(t *testing.T) {
	chunks := chunkWords("one\n\ttwo   three", 10, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, "one two three", chunks[0])
}
