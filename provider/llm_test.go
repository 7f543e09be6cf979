package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/enrichworker/cache"
)

func TestOpenAI_Complete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])

		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"summary":"acme makes anvils"}`}},
			},
			"usage": map[string]int{"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28},
		})
	}))
	defer srv.Close()

	client := NewOpenAI(NewAdapter("openai", testPool(t), WithRetryPolicy(fastPolicy())), "sk-test",
		WithOpenAIBaseURL(srv.URL),
		WithOpenAICache(cache.NewAICache()))

	req := CompletionRequest{Model: "gpt-4o", Prompt: "summarize acme", Temperature: 0, TenantID: "t1"}
	first, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 28, first.Usage.TotalTokens)
	assert.JSONEq(t, `{"summary":"acme makes anvils"}`, string(first.Content))

	// Second identical call is served from the AI cache: no outbound call,
	// token usage surfaced from the stored entry.
	second, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 28, second.Usage.TotalTokens)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGemini_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "models/gemini-2.0-flash:generateContent")
		assert.Equal(t, "k-test", r.URL.Query().Get("key"))

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": `{"ok":true}`}}}},
			},
			"usageMetadata": map[string]int{"promptTokenCount": 5, "candidatesTokenCount": 3, "totalTokenCount": 8},
		})
	}))
	defer srv.Close()

	client := NewGemini(NewAdapter("gemini", testPool(t), WithRetryPolicy(fastPolicy())), "k-test",
		WithGeminiBaseURL(srv.URL))

	comp, err := client.Complete(context.Background(), CompletionRequest{
		Model:  "gemini-2.0-flash",
		Prompt: "hello",
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(comp.Content))
	assert.Equal(t, 8, comp.Usage.TotalTokens)
}
