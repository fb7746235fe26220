package agent

import "github.com/tausani-ah-chong/tdd-agent/internal/llm"

// Reply is one completed model exchange.
type Reply struct {
	// Content is the final text, the only part handed to the extractor.
	Content string
	// Thinking is the model's deliberation, shown to the user and never parsed.
	Thinking     string
	Usage        llm.Usage
	Model        string
	FinishReason string
}
