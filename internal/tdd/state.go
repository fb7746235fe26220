package tdd

import (
	"time"

	"github.com/google/uuid"

	"github.com/tausani-ah-chong/tdd-agent/internal/llm"
	"github.com/tausani-ah-chong/tdd-agent/internal/workspace"
)

// State is everything one session knows. It is owned by a single Run call.
type State struct {
	Phase     Phase
	Iteration int
	// History is append-only and is resent in full on every model call.
	History           []llm.ChatMessage
	LastTestOutput    string
	TotalInputTokens  int
	TotalOutputTokens int

	SessionID string
	RunID     string
	StartedAt time.Time
}

// NewState starts a session in write_test with the task as the first user turn.
func NewState(task string, start time.Time) *State {
	return &State{
		Phase: PhaseWriteTest,
		History: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: initialInstruction(task)},
		},
		SessionID: uuid.NewString(),
		RunID:     workspace.NewRunID(start),
		StartedAt: start,
	}
}

func (s *State) appendAssistant(content string) {
	s.History = append(s.History, llm.ChatMessage{Role: llm.RoleAssistant, Content: content})
}

func (s *State) appendUser(content string) {
	s.History = append(s.History, llm.ChatMessage{Role: llm.RoleUser, Content: content})
}

func (s *State) addUsage(u llm.Usage) {
	s.TotalInputTokens += u.PromptTokens
	s.TotalOutputTokens += u.CompletionTokens
}
