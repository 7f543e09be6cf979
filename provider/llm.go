package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/leadfoundry/enrichworker/cache"
	"github.com/leadfoundry/enrichworker/metrics"
)

// CompletionRequest describes one structured LLM generation.
type CompletionRequest struct {
	Model  string
	Prompt string

	// Schema is an optional JSON schema constraining the response shape.
	Schema json.RawMessage

	Temperature float64
	MaxTokens   int
	TenantID    string

	// ForceRefresh bypasses the AI cache lookup.
	ForceRefresh bool
}

// Completion is the generation result.
type Completion struct {
	Content   json.RawMessage
	Model     string
	Usage     cache.TokenUsage
	FromCache bool
}

// Completer is the uniform LLM interface the enrichment tasks consume.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// lookupAICache checks the AI cache for a prior completion.
func lookupAICache(ctx context.Context, c *cache.AICache, req CompletionRequest) (*Completion, string) {
	key := cache.AIKey(req.Model, req.Prompt, cache.SchemaFingerprint(req.Schema), req.Temperature, req.TenantID)
	if c == nil {
		return nil, key
	}
	if req.ForceRefresh {
		return nil, key
	}
	entry, ok := c.Get(ctx, req.TenantID, key)
	if !ok {
		metrics.CacheLookups.WithLabelValues("ai", "miss").Inc()
		return nil, key
	}
	metrics.CacheLookups.WithLabelValues("ai", "hit").Inc()
	return &Completion{
		Content:   entry.Response,
		Model:     entry.Model,
		Usage:     entry.Usage,
		FromCache: true,
	}, key
}

func storeAICache(ctx context.Context, c *cache.AICache, key string, req CompletionRequest, comp *Completion) {
	if c == nil {
		return
	}
	c.Put(ctx, &cache.AIEntry{
		Key:               key,
		Model:             req.Model,
		Prompt:            req.Prompt,
		SchemaFingerprint: cache.SchemaFingerprint(req.Schema),
		Temperature:       req.Temperature,
		Response:          comp.Content,
		Usage:             comp.Usage,
		TenantID:          req.TenantID,
	}, 0)
}

// OpenAI generates structured completions through the chat completions API.
type OpenAI struct {
	adapter *Adapter
	apiKey  string
	baseURL string
	aiCache *cache.AICache
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAI)

// WithOpenAIBaseURL overrides the API base URL (tests, proxies).
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(o *OpenAI) { o.baseURL = strings.TrimSuffix(u, "/") }
}

// WithOpenAICache sets the AI completion cache.
func WithOpenAICache(c *cache.AICache) OpenAIOption {
	return func(o *OpenAI) { o.aiCache = c }
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(adapter *Adapter, apiKey string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		adapter: adapter,
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	cached, key := lookupAICache(ctx, o.aiCache, req)
	if cached != nil {
		return cached, nil
	}
	payload := map[string]any{
		"model":       req.Model,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if len(req.Schema) > 0 {
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "enrichment_result",
				"schema": json.RawMessage(req.Schema),
				"strict": true,
			},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	resp, err := o.adapter.Request(ctx, RequestSpec{
		Method:  http.MethodPost,
		URL:     o.baseURL + "/chat/completions",
		Headers: map[string]string{"Authorization": "Bearer " + o.apiKey},
		Body:    body,
		NoCache: true, // the AI cache owns completion caching
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}

	comp := &Completion{
		Content: json.RawMessage(out.Choices[0].Message.Content),
		Model:   out.Model,
		Usage: cache.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}
	storeAICache(ctx, o.aiCache, key, req, comp)
	return comp, nil
}

// Gemini generates structured completions through the Generative Language
// API.
type Gemini struct {
	adapter *Adapter
	apiKey  string
	baseURL string
	aiCache *cache.AICache
}

// GeminiOption configures the client.
type GeminiOption func(*Gemini)

// WithGeminiBaseURL overrides the API base URL (tests).
func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimSuffix(u, "/") }
}

// WithGeminiCache sets the AI completion cache.
func WithGeminiCache(c *cache.AICache) GeminiOption {
	return func(g *Gemini) { g.aiCache = c }
}

// NewGemini creates a Gemini client.
func NewGemini(adapter *Adapter, apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		adapter: adapter,
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	cached, key := lookupAICache(ctx, g.aiCache, req)
	if cached != nil {
		return cached, nil
	}

	generation := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		generation["maxOutputTokens"] = req.MaxTokens
	}
	if len(req.Schema) > 0 {
		generation["responseMimeType"] = "application/json"
		generation["responseSchema"] = json.RawMessage(req.Schema)
	}

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": req.Prompt}}},
		},
		"generationConfig": generation,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	resp, err := g.adapter.Request(ctx, RequestSpec{
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, req.Model),
		Params:  map[string]string{"key": g.apiKey},
		Body:    body,
		NoCache: true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates")
	}

	comp := &Completion{
		Content: json.RawMessage(out.Candidates[0].Content.Parts[0].Text),
		Model:   req.Model,
		Usage: cache.TokenUsage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
		},
	}
	storeAICache(ctx, g.aiCache, key, req, comp)
	return comp, nil
}
