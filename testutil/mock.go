// Package testutil provides test helpers for toolloop: a scripted model stub,
// a configurable mock tool and a test registry.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/skosovsky/toolloop"
)

// MockTool is a configurable Tool implementation for tests. It performs no argument
// validation; ExecuteFn receives the raw mapping.
type MockTool struct {
	NameVal   string
	DescVal   string
	ParamsVal map[string]any
	ExecuteFn func(ctx context.Context, args toolloop.Args) (string, error)
}

// Name returns the tool name.
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the tool description.
func (m *MockTool) Description() string {
	return m.DescVal
}

// Parameters returns the parameters schema (or an empty object schema).
func (m *MockTool) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{"type": "object"}
}

// Execute runs ExecuteFn if set, otherwise returns "".
func (m *MockTool) Execute(ctx context.Context, args toolloop.Args) (string, error) {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, args)
	}
	return "", nil
}

var _ toolloop.Tool = (*MockTool)(nil)

// ErrScriptExhausted is returned by ScriptedModel when it runs out of steps.
var ErrScriptExhausted = errors.New("scripted model: script exhausted")

// Step is one scripted model response.
type Step struct {
	Turn toolloop.AssistantTurn
	Err  error
}

// Reply is a final answer step.
func Reply(text string) Step {
	return Step{Turn: toolloop.AssistantTurn{Text: text}}
}

// Request is a step asking for the given tool requests.
func Request(reqs ...toolloop.ToolRequest) Step {
	return Step{Turn: toolloop.AssistantTurn{ToolRequests: reqs}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call records what the model received.
type Call struct {
	History []toolloop.Message
	Tools   []toolloop.ToolSpec
}

// ScriptedModel replays Steps in order. When the script is exhausted it uses Fallback,
// or fails with ErrScriptExhausted. Safe for concurrent use.
type ScriptedModel struct {
	Steps    []Step
	Fallback func(call int, history []toolloop.Message, tools []toolloop.ToolSpec) (toolloop.AssistantTurn, error)

	mu    sync.Mutex
	calls []Call
}

// NewScriptedModel returns a model that replays steps.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{Steps: steps}
}

// Converse implements toolloop.Model.
func (m *ScriptedModel) Converse(_ context.Context, history []toolloop.Message, tools []toolloop.ToolSpec) (toolloop.AssistantTurn, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, Call{History: history, Tools: tools})
	var step *Step
	if n < len(m.Steps) {
		step = &m.Steps[n]
	}
	fallback := m.Fallback
	m.mu.Unlock()
	if step != nil {
		return step.Turn, step.Err
	}
	if fallback != nil {
		return fallback(n, history, tools)
	}
	return toolloop.AssistantTurn{}, ErrScriptExhausted
}

// Calls returns the recorded calls.
func (m *ScriptedModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of Converse calls so far.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ toolloop.Model = (*ScriptedModel)(nil)
