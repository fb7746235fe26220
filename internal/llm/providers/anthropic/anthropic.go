package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
)

const (
	defaultMaxTokens  = 4096
	defaultMaxRetries = 2

	// emptyTurnPlaceholder stands in for an empty assistant turn, which the API rejects.
	emptyTurnPlaceholder = "(no text output)"
)

// Provider implements the Anthropic Messages API on the official SDK.
type Provider struct {
	name   string
	client anthropic.Client
	apiKey string
}

// NewProvider constructs a Provider. The API key falls back to ANTHROPIC_API_KEY.
func NewProvider(name, baseURL, apiKey string, timeout time.Duration) *Provider {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(defaultMaxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	return &Provider{
		name:   name,
		client: anthropic.NewClient(opts...),
		apiKey: apiKey,
	}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat sends one Messages request and folds the content blocks into a response.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if req.Model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}
	if p.apiKey == "" {
		return llm.ChatResponse{}, fmt.Errorf("anthropic: api key is not set (ANTHROPIC_API_KEY)")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system, msgs := llm.SplitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessageParams(msgs),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.ThinkingBudget > 0 {
		// temperature must stay unset while thinking is enabled
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	} else if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("anthropic: %w", err)
	}

	var text, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}

	input, output := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: text.String(),
		},
		Reasoning:    thinking.String(),
		FinishReason: string(msg.StopReason),
		Usage: llm.Usage{
			PromptTokens:     input,
			CompletionTokens: output,
			TotalTokens:      input + output,
		},
		ProviderName: p.name,
		Model:        req.Model,
	}, nil
}

func toMessageParams(msgs []llm.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if strings.TrimSpace(content) == "" {
			content = emptyTurnPlaceholder
		}
		block := anthropic.NewTextBlock(content)
		if m.Role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
