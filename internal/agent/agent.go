package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tausani-ah-chong/tdd-agent/internal/config"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	"github.com/tausani-ah-chong/tdd-agent/internal/observability"
)

// ErrModelUnavailable is returned when every candidate model failed to answer.
var ErrModelUnavailable = errors.New("no model produced a response")

// Agent performs single synchronous exchanges with the configured models.
type Agent struct {
	registry *llm.Registry
	strategy *StrategyEngine
	cfg      config.LoopConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New creates a new Agent. logger and metrics may be nil.
func New(registry *llm.Registry, strategy config.StrategyConfig, cfg config.LoopConfig, logger *zap.Logger, metrics *observability.Metrics) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		registry: registry,
		strategy: NewStrategyEngine(registry, strategy),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Send submits the system prompt and the whole conversation and waits for the reply.
// A transport failure on one model moves on to the next fallback.
func (a *Agent) Send(ctx context.Context, system string, history []llm.ChatMessage) (Reply, error) {
	candidates := a.strategy.Candidates()
	if len(candidates) == 0 {
		return Reply{}, fmt.Errorf("%w: no models configured", ErrModelUnavailable)
	}

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, history...)

	var lastErr error
	for _, name := range candidates {
		provider, route, err := a.registry.Resolve(name)
		if err != nil {
			lastErr = err
			a.logger.Warn("model not resolvable", zap.String("model", name), zap.Error(err))
			continue
		}

		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Model:          route.Model,
			Messages:       messages,
			MaxTokens:      pickMaxTokens(a.cfg.MaxTokens, route.MaxTokens),
			Temperature:    pickTemperature(a.cfg.Temperature, route.Temperature),
			ThinkingBudget: route.ThinkingBudget,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Reply{}, ctxErr
			}
			lastErr = err
			a.metrics.RecordModelFailure(name)
			a.logger.Warn("model call failed",
				zap.String("model", name),
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			continue
		}

		a.metrics.RecordModelUsage(name)
		a.logger.Debug("model replied",
			zap.String("model", name),
			zap.String("finish_reason", resp.FinishReason),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		return Reply{
			Content:      resp.Message.Content,
			Thinking:     resp.Reasoning,
			Usage:        resp.Usage,
			Model:        name,
			FinishReason: resp.FinishReason,
		}, nil
	}

	return Reply{}, fmt.Errorf("%w: %w", ErrModelUnavailable, lastErr)
}

// Models returns the ordered model ids Send will try.
func (a *Agent) Models() []string {
	return a.strategy.Candidates()
}

func pickTemperature(loopTemp float64, routeTemp float64) float64 {
	if loopTemp > 0 {
		return loopTemp
	}
	if routeTemp > 0 {
		return routeTemp
	}
	return 0.2
}

func pickMaxTokens(loopMax int, routeMax int) int {
	if loopMax > 0 {
		return loopMax
	}
	if routeMax > 0 {
		return routeMax
	}
	return 0
}
