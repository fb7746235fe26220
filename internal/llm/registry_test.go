package llm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tausani-ah-chong/tdd-agent/internal/config"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm/configbuilder"
	llmmock "github.com/tausani-ah-chong/tdd-agent/internal/llm/mock"
)

func TestRegistryResolve(t *testing.T) {
	reg := llm.NewRegistry()
	mockProvider := &llmmock.Provider{NameValue: "mock"}
	reg.RegisterProvider("mock", mockProvider)
	reg.RegisterModel("default", llm.ModelRoute{
		Provider:    "mock",
		Model:       "dummy",
		Temperature: 0.2,
	}, true)

	p, route, err := reg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, mockProvider, p)
	require.Equal(t, "dummy", route.Model)
	require.Equal(t, "default", route.Name)
	require.Equal(t, []string{"default"}, reg.Models())
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterModel("orphan", llm.ModelRoute{Provider: "missing"}, true)

	_, _, err := reg.Resolve("nope")
	require.Error(t, err)
	_, _, err = reg.Resolve("orphan")
	require.ErrorContains(t, err, "provider \"missing\"")
}

func TestBuildRegistryFromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai":    {Type: "openai", BaseURL: "http://example.com"},
			"anthropic": {Type: "anthropic", APIKey: "k"},
			"local":     {Type: "ollama"},
		},
		Models: map[string]config.ModelConfig{
			"main":  {Provider: "anthropic", Model: "claude", ThinkingBudget: 1024, MaxTokens: 4096, Default: true},
			"alt":   {Provider: "openai", Model: "gpt-4o"},
			"local": {Provider: "local", Model: "qwen"},
		},
	}

	reg, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.NoError(t, err)

	p, route, err := reg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())
	require.Equal(t, 1024, route.ThinkingBudget)

	p, _, err = reg.Resolve("local")
	require.NoError(t, err)
	require.Equal(t, "local", p.Name())
}

func TestBuildRegistryRejectsUnknownType(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{"x": {Type: "carrier-pigeon"}},
	}
	_, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.Error(t, err)
}

func TestSplitSystem(t *testing.T) {
	system, rest := llm.SplitSystem([]llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "rules"},
		{Role: llm.RoleUser, Content: "task"},
		{Role: llm.RoleAssistant, Content: ""},
	})
	require.Equal(t, "rules", system)
	require.Len(t, rest, 2)
	require.Equal(t, llm.RoleUser, rest[0].Role)
}
