package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

// newTestOllamaClient creates an OllamaClient pointing at a test server,
// bypassing the environment-variable configuration in NewOllamaClient.
func newTestOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		model:      "test-model",
	}
}

// ndjsonServer returns a test server that answers /api/chat with the given
// NDJSON lines, one per write.
func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected path /api/chat, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
}

func TestChatStream_BasicSuccess(t *testing.T) {
	t.Parallel()

	server := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
		`{"message":{"role":"assistant","content":" there"},"done":false}`,
		`{"message":{"role":"assistant","content":"!"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	)
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	var response strings.Builder
	var eventCount int
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type != StreamEventToken {
			t.Errorf("Expected only token events, got %v", event.Type)
		}
		eventCount++
		response.WriteString(event.Content)
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if response.String() != "Hello there!" {
		t.Errorf("Expected 'Hello there!', got '%s'", response.String())
	}
	if eventCount != 3 {
		t.Errorf("Expected 3 token events (done chunk is empty), got %d", eventCount)
	}
}

func TestChatStream_StopsAtDone(t *testing.T) {
	t.Parallel()

	server := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"final"},"done":true}`,
		`{"message":{"role":"assistant","content":"never delivered"},"done":false}`,
	)
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	var tokens []string
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			tokens = append(tokens, event.Content)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "final" {
		t.Errorf("Expected only the final chunk, got %v", tokens)
	}
}

func TestChatStream_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"internal server error"}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	var errorEvents int
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventError {
			errorEvents++
		}
		return nil
	})

	if err == nil {
		t.Fatal("ChatStream should return error for non-200 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("Error should contain status code, got: %v", err)
	}
	if errorEvents != 1 {
		t.Errorf("Expected 1 error event, got %d", errorEvents)
	}
}

func TestChatStream_InBandError(t *testing.T) {
	t.Parallel()

	server := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"Starting..."},"done":false}`,
		`{"error":"model crashed"}`,
	)
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	var events []StreamEvent
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		events = append(events, event)
		return nil
	})

	if err == nil {
		t.Fatal("ChatStream should return error when stream contains an error chunk")
	}
	if !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("Error should contain the backend message, got: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected token then error event, got %d events", len(events))
	}
	if events[0].Type != StreamEventToken || events[0].Content != "Starting..." {
		t.Errorf("First event should be the partial token, got %+v", events[0])
	}
	if events[1].Type != StreamEventError || events[1].Err == nil {
		t.Errorf("Second event should carry the stream error, got %+v", events[1])
	}
}

func TestChatStream_CallbackAbort(t *testing.T) {
	t.Parallel()

	server := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"First"},"done":false}`,
		`{"message":{"role":"assistant","content":"Second"},"done":false}`,
		`{"message":{"role":"assistant","content":"Third"},"done":false}`,
		`{"done":true}`,
	)
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	abortErr := errors.New("sink closed")
	tokenCount := 0
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			tokenCount++
			if tokenCount >= 2 {
				return abortErr
			}
		}
		return nil
	})

	if !errors.Is(err, abortErr) {
		t.Fatalf("ChatStream should propagate the callback error, got: %v", err)
	}
	if tokenCount != 2 {
		t.Errorf("Expected 2 tokens before abort, got %d", tokenCount)
	}
}

func TestChatStream_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"First"},"done":false}`)
		w.(http.Flusher).Flush()
		time.Sleep(500 * time.Millisecond)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Second"},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.ChatStream(ctx, []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		return nil
	})

	if err == nil {
		t.Fatal("ChatStream should return error on context cancellation")
	}
}

func TestChatStream_MalformedJSON(t *testing.T) {
	t.Parallel()

	server := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"First"},"done":false}`,
		`{not valid json}`,
		`{"message":{"role":"assistant","content":"Second"},"done":false}`,
		`{"done":true}`,
	)
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	var tokens []string
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			tokens = append(tokens, event.Content)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream should skip malformed lines, got: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "First" || tokens[1] != "Second" {
		t.Errorf("Expected [First, Second], got %v", tokens)
	}
}

func TestChatStream_EmptyLines(t *testing.T) {
	t.Parallel()

	server := ndjsonServer(t,
		`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
		``,
		``,
		`{"message":{"role":"assistant","content":" World"},"done":false}`,
		`{"done":true}`,
	)
	defer server.Close()

	client := newTestOllamaClient(server.URL)

	var response strings.Builder
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			response.WriteString(event.Content)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if response.String() != "Hello World" {
		t.Errorf("Expected 'Hello World', got '%s'", response.String())
	}
}
