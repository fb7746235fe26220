package config

// StrategyConfig defines which model drives the loop and what to fall back to.
type StrategyConfig struct {
	DefaultModel string   `mapstructure:"default_model"`
	Fallbacks    []string `mapstructure:"fallbacks"` // ordered fallback model ids
}
