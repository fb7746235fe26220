package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Strategy  StrategyConfig            `mapstructure:"strategy"`
	Loop      LoopConfig                `mapstructure:"loop"`
	Workspace WorkspaceConfig           `mapstructure:"workspace"`
	Harness   HarnessConfig             `mapstructure:"harness"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

// ProviderConfig represents LLM provider configuration such as Anthropic, OpenAI, or Ollama.
type ProviderConfig struct {
	Type    string        `mapstructure:"type"`     // anthropic, openai, openrouter, ollama, vllm, lmstudio, custom
	BaseURL string        `mapstructure:"base_url"` // API base URL
	APIKey  string        `mapstructure:"api_key"`  // optional; provider env var is used when empty
	Timeout time.Duration `mapstructure:"timeout"`  // request timeout
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider       string  `mapstructure:"provider"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	ThinkingBudget int     `mapstructure:"thinking_budget"` // 0 disables extended thinking
	Default        bool    `mapstructure:"default"`
}

// LoopConfig controls the red/green iteration loop.
type LoopConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	DefaultTask   string  `mapstructure:"default_task"`
}

// WorkspaceConfig locates the sandbox and its history snapshots.
type WorkspaceConfig struct {
	Dir        string `mapstructure:"dir"`
	HistoryDir string `mapstructure:"history_dir"` // relative paths resolve against Dir
	TrackedExt string `mapstructure:"tracked_ext"`
}

// HarnessConfig describes the external test command.
type HarnessConfig struct {
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PreviewErrors  int    `mapstructure:"preview_errors"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// MetricsConfig controls the per-run Prometheus textfile export.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Filename string `mapstructure:"filename"` // written inside the run's history directory
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: TDD_AGENT_, dots replaced with underscores).
// When no path is given and no config file exists, built-in defaults are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TDD_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyBuiltinModels()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("loop.max_iterations", 100)
	v.SetDefault("loop.max_tokens", 0)
	v.SetDefault("loop.temperature", 0)
	v.SetDefault("loop.default_task", "Write a function called add that takes two numbers and returns their sum")

	v.SetDefault("workspace.dir", "./sandbox")
	v.SetDefault("workspace.history_dir", "history")
	v.SetDefault("workspace.tracked_ext", ".ts")

	v.SetDefault("harness.command", "npm test")
	v.SetDefault("harness.timeout_seconds", 300)
	v.SetDefault("harness.preview_errors", 5)

	v.SetDefault("strategy.default_model", "")
	v.SetDefault("strategy.fallbacks", []string{})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.filename", "metrics.prom")
}

// applyBuiltinModels fills in the Anthropic provider and model when nothing is configured.
func (c *Config) applyBuiltinModels() {
	if len(c.Providers) == 0 && len(c.Models) == 0 {
		c.Providers = map[string]ProviderConfig{
			"anthropic": {Type: "anthropic", Timeout: 5 * time.Minute},
		}
		c.Models = map[string]ModelConfig{
			"coder": {
				Provider:       "anthropic",
				Model:          "claude-opus-4-1",
				MaxTokens:      DefaultMaxTokens,
				ThinkingBudget: 2048,
				Default:        true,
			},
		}
	}
}

// DefaultMaxTokens is the reply cap sent when neither loop nor model sets one.
const DefaultMaxTokens = 4096

// EffectiveMaxTokens is the reply cap requests to m carry: loop.max_tokens
// overrides the model's own value.
func (c *Config) EffectiveMaxTokens(m ModelConfig) int {
	if c.Loop.MaxTokens > 0 {
		return c.Loop.MaxTokens
	}
	if m.MaxTokens > 0 {
		return m.MaxTokens
	}
	return DefaultMaxTokens
}

// HistoryPath returns the absolute-or-relative history directory, resolved against the workspace dir.
func (w WorkspaceConfig) HistoryPath() string {
	if filepath.IsAbs(w.HistoryDir) {
		return w.HistoryDir
	}
	return filepath.Join(w.Dir, w.HistoryDir)
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	var defaultFound bool
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
	}

	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}

		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}

		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}

		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}

		if m.ThinkingBudget < 0 {
			return fmt.Errorf("model %q thinking_budget cannot be negative", name)
		}
		if limit := c.EffectiveMaxTokens(m); m.ThinkingBudget > 0 && m.ThinkingBudget >= limit {
			return fmt.Errorf("model %q thinking_budget %d must be lower than effective max_tokens %d", name, m.ThinkingBudget, limit)
		}

		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	if c.Loop.MaxIterations <= 0 {
		return errors.New("loop.max_iterations must be > 0")
	}
	if c.Loop.MaxTokens < 0 {
		return errors.New("loop.max_tokens must be >= 0")
	}

	if strings.TrimSpace(c.Workspace.Dir) == "" {
		return errors.New("workspace.dir must be set")
	}
	if strings.TrimSpace(c.Workspace.HistoryDir) == "" {
		return errors.New("workspace.history_dir must be set")
	}
	if !strings.HasPrefix(c.Workspace.TrackedExt, ".") {
		return fmt.Errorf("workspace.tracked_ext must start with a dot, got %q", c.Workspace.TrackedExt)
	}

	if strings.TrimSpace(c.Harness.Command) == "" {
		return errors.New("harness.command must be set")
	}
	if c.Harness.TimeoutSeconds < 0 {
		return errors.New("harness.timeout_seconds must be >= 0")
	}
	if c.Harness.PreviewErrors < 0 {
		return errors.New("harness.preview_errors must be >= 0")
	}

	if id := strings.TrimSpace(c.Strategy.DefaultModel); id != "" {
		if _, ok := c.Models[id]; !ok {
			return fmt.Errorf("strategy references unknown model %q", id)
		}
	}
	for _, modelID := range c.Strategy.Fallbacks {
		if _, ok := c.Models[modelID]; !ok {
			return fmt.Errorf("strategy fallback references unknown model %q", modelID)
		}
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Filename) == "" {
		return errors.New("metrics.filename must be set when metrics.enabled is true")
	}
	if strings.ContainsAny(c.Metrics.Filename, `/\`) {
		return fmt.Errorf("metrics.filename must be a plain file name, got %q", c.Metrics.Filename)
	}

	return nil
}
