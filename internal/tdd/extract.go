package tdd

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

// Turn is the structured action a model reply declares.
type Turn struct {
	Phase     Phase  `json:"phase"`
	Filename  string `json:"filename"`
	Code      string `json:"code"`
	Reasoning string `json:"reasoning"`
}

var fenceRe = regexp.MustCompile("```(?:json)?\\n?([\\s\\S]*?)```")

// Extract recovers a Turn from free-form model text. Fenced blocks are
// unwrapped first; failing that, the span from the first '{' to the last '}'
// is tried. All four fields must be present, though code and reasoning may
// be empty strings. Every failure wraps ErrExtractionFailed.
func Extract(raw string) (Turn, error) {
	if strings.TrimSpace(raw) == "" {
		return Turn{}, fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	stripped := strings.TrimSpace(fenceRe.ReplaceAllString(raw, "$1"))
	turn, err := decodeTurn(stripped)
	if err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return Turn{}, fmt.Errorf("%w: no JSON object found", ErrExtractionFailed)
		}
		turn, err = decodeTurn(raw[start : end+1])
		if err != nil {
			return Turn{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
		}
	}

	if err := turn.validate(); err != nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return turn, nil
}

// wireTurn tells an absent key apart from an empty value.
type wireTurn struct {
	Phase     *string `json:"phase"`
	Filename  *string `json:"filename"`
	Code      *string `json:"code"`
	Reasoning *string `json:"reasoning"`
}

func decodeTurn(s string) (Turn, error) {
	var w wireTurn
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Turn{}, err
	}
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"phase", w.Phase},
		{"filename", w.Filename},
		{"code", w.Code},
		{"reasoning", w.Reasoning},
	} {
		if f.v == nil {
			return Turn{}, fmt.Errorf("missing field %q", f.name)
		}
	}
	return Turn{
		Phase:     Phase(*w.Phase),
		Filename:  *w.Filename,
		Code:      *w.Code,
		Reasoning: *w.Reasoning,
	}, nil
}

func (t Turn) validate() error {
	if _, err := ParsePhase(string(t.Phase)); err != nil {
		return err
	}
	return workspace.ValidateFilename(t.Filename)
}
