package llm

import (
	"context"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies what a streaming backend emitted.
type StreamEventType string

const (
	// StreamEventToken carries a fragment of the assistant's answer text.
	StreamEventToken StreamEventType = "token"

	// StreamEventError carries a terminal backend failure.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is a single item emitted by ChatStream. Events arrive in the
// order the backend produced them; Content is always the new fragment, never
// the accumulated text.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Err     error
}

// StreamCallback receives streaming events. Returning a non-nil error stops
// the stream; the backend must not invoke the callback again after that.
type StreamCallback func(StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Chat completes a conversation and returns the full assistant reply.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream completes a conversation token-by-token via the callback.
	// Context cancellation aborts the stream and returns ctx.Err().
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams,
		callback StreamCallback) error
}

// Embedder produces a vector embedding for a piece of text. Backends that
// cannot embed simply do not implement this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
