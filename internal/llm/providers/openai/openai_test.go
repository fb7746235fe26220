package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
)

func TestChatSendsRequestAndParsesResponse(t *testing.T) {
	t.Parallel()

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			require.Equal(t, "/v1/chat/completions", r.URL.Path)
			require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)

			var reqBody map[string]interface{}
			require.NoError(t, json.Unmarshal(body, &reqBody))
			require.Equal(t, "gpt-4o-mini", reqBody["model"])
			require.Len(t, reqBody["messages"], 2)

			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body: io.NopCloser(strings.NewReader(`{
					"choices": [{
						"index": 0,
						"finish_reason": "stop",
						"message": {"role": "assistant", "content": "hello", "reasoning_content": "thought"}
					}],
					"usage": {"prompt_tokens": 1, "completion_tokens": 2, "total_tokens": 3}
				}`)),
			}, nil
		}),
	}
	p := newProvider("openai", "http://mock", "key", client)

	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "rules"},
			{Role: llm.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Content)
	require.Equal(t, "thought", resp.Reasoning)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, 1, resp.Usage.PromptTokens)
	require.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestChatSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"bad key","type":"auth"}}`)),
			}, nil
		}),
	}
	p := newProvider("openai", "", "key", client)

	_, err := p.Chat(context.Background(), llm.ChatRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)
}

func TestChatRequiresModel(t *testing.T) {
	p := NewProvider("openai", "", "key", 0)
	_, err := p.Chat(context.Background(), llm.ChatRequest{})
	require.ErrorContains(t, err, "model is required")
}

func TestAPIBase(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1", apiBase(""))
	require.Equal(t, "http://localhost:1234/v1", apiBase("http://localhost:1234/"))
	require.Equal(t, "https://openrouter.ai/api/v1", apiBase("https://openrouter.ai/api/v1"))
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
