package agent

import (
	"strings"

	"github.com/tausani-ah-chong/tdd-agent/internal/config"
	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
)

// StrategyEngine decides which models to try and in what order.
type StrategyEngine struct {
	registry *llm.Registry
	cfg      config.StrategyConfig
}

// NewStrategyEngine builds a strategy selector.
func NewStrategyEngine(reg *llm.Registry, cfg config.StrategyConfig) *StrategyEngine {
	return &StrategyEngine{registry: reg, cfg: cfg}
}

// Candidates returns model ids in try order: the configured default (or the
// registry default), then fallbacks. Duplicates and blanks are dropped.
func (s *StrategyEngine) Candidates() []string {
	if s == nil || s.registry == nil {
		return nil
	}
	ids := make([]string, 0, 1+len(s.cfg.Fallbacks))
	ids = append(ids, firstNonEmpty(s.cfg.DefaultModel, s.registry.DefaultModel()))
	ids = append(ids, s.cfg.Fallbacks...)

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
