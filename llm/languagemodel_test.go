package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	config := openai.DefaultConfig("test-key")
	config.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(config)
}

func streamChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		payload, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]any{"content": c}},
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIChatCompletionStreams(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		streamChunks(w, "Hel", "", "lo", " there")
	})

	model := NewOpenAILanguageModel(client, "")
	req := (&ChatCompletionRequest{}).
		WithMessage(RoleSystem, "be brief").
		WithMessage(RoleUser, "hi")

	ch, err := model.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion() returned error: %v", err)
	}

	var fragments []string
	for resp := range ch {
		if resp.Err != nil {
			t.Fatalf("stream error: %v", resp.Err)
		}
		fragments = append(fragments, resp.Content)
	}

	if strings.Join(fragments, "|") != "Hel|lo| there" {
		t.Errorf("fragments = %q, want [Hel lo  there]", fragments)
	}
	if got.Model != openai.GPT4o || !got.Stream {
		t.Errorf("request model=%q stream=%v, want gpt-4o streaming", got.Model, got.Stream)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Errorf("request messages = %+v", got.Messages)
	}
}

func TestOpenAIChatCompletionError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	})

	model := NewOpenAILanguageModel(client, "")
	_, err := model.ChatCompletion(
		context.Background(),
		(&ChatCompletionRequest{}).WithMessage(RoleUser, "hi"),
	)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("ChatCompletion() error = %v, want the provider message", err)
	}
}

func TestGeminiHistory(t *testing.T) {
	system, history, last, err := geminiHistory([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "how are you"},
	})
	if err != nil {
		t.Fatalf("geminiHistory() returned error: %v", err)
	}
	if system != "be brief" {
		t.Errorf("system = %q, want %q", system, "be brief")
	}
	if last != "how are you" {
		t.Errorf("last = %q, want %q", last, "how are you")
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Errorf("history roles wrong: %+v", history)
	}

	_, _, _, err = geminiHistory([]Message{{Role: RoleSystem, Content: "x"}})
	if err == nil {
		t.Error("geminiHistory() without a user message should fail")
	}
}
