package toolloop

import "context"

// MessageKind identifies who produced a Message.
type MessageKind string

const (
	KindUser       MessageKind = "user"
	KindAssistant  MessageKind = "assistant"
	KindToolResult MessageKind = "tool_result"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusBudgetExhausted Status = "budget_exhausted"
	StatusCancelled       Status = "cancelled"
	StatusModelFailed     Status = "model_failed"
)

// Args is the argument mapping of a tool request. Values are JSON primitives
// (string, float64/json.Number, bool) as decoded from the model, or Go ints after coercion.
type Args map[string]any

// ToolRequest is a model-issued instruction to run one tool.
type ToolRequest struct {
	ID       string `json:"id"`
	ToolName string `json:"tool_name"`
	Args     Args   `json:"args,omitempty"`
}

// Message is one turn of the conversation.
//
// User messages carry Text. Assistant messages carry optional Text and zero or more
// ToolRequests. ToolResult messages carry the tool output in Text, the correlating
// CallID and the ToolName; IsError marks synthesized error results.
type Message struct {
	Kind         MessageKind   `json:"kind"`
	Text         string        `json:"text,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
	CallID       string        `json:"call_id,omitempty"`
	ToolName     string        `json:"tool_name,omitempty"`
	IsError      bool          `json:"is_error,omitempty"`
}

// UserMessage returns a User message with the given text.
func UserMessage(text string) Message {
	return Message{Kind: KindUser, Text: text}
}

// AssistantMessage returns an Assistant message.
func AssistantMessage(text string, requests ...ToolRequest) Message {
	return Message{Kind: KindAssistant, Text: text, ToolRequests: requests}
}

// ToolResultMessage returns a ToolResult message correlated to callID.
func ToolResultMessage(callID, toolName, text string, isError bool) Message {
	return Message{Kind: KindToolResult, CallID: callID, ToolName: toolName, Text: text, IsError: isError}
}

// clone returns a deep copy so that callers cannot reach into run-owned state.
func (m Message) clone() Message {
	out := m
	if m.ToolRequests != nil {
		out.ToolRequests = make([]ToolRequest, len(m.ToolRequests))
		for i, r := range m.ToolRequests {
			out.ToolRequests[i] = r.clone()
		}
	}
	return out
}

func (r ToolRequest) clone() ToolRequest {
	out := r
	if r.Args != nil {
		out.Args = make(Args, len(r.Args))
		for k, v := range r.Args {
			out.Args[k] = v
		}
	}
	return out
}

// AssistantTurn is what a Model returns for one call.
type AssistantTurn struct {
	Text         string
	ToolRequests []ToolRequest
}

// ToolSpec is one entry of the model-facing tool catalog.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// Model is the language-model capability the loop depends on.
// A nil tools catalog means tool use is disabled for that call.
// Implementations should return an error wrapping ErrModelUnavailable for
// connectivity failures and timeouts.
type Model interface {
	Converse(ctx context.Context, history []Message, tools []ToolSpec) (AssistantTurn, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, history []Message, tools []ToolSpec) (AssistantTurn, error)

// Converse calls f.
func (f ModelFunc) Converse(ctx context.Context, history []Message, tools []ToolSpec) (AssistantTurn, error) {
	return f(ctx, history, tools)
}

// Conversation is the append-only message log of one run. It is owned by the run
// that created it; readers get copies.
type Conversation struct {
	messages []Message
}

func newConversation(request string) *Conversation {
	return &Conversation{messages: []Message{UserMessage(request)}}
}

func (c *Conversation) append(m Message) {
	c.messages = append(c.messages, m.clone())
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.messages)
}

// Messages returns a deep copy of the log.
func (c *Conversation) Messages() []Message {
	if c == nil {
		return nil
	}
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// Last returns the most recent message, or false when empty.
func (c *Conversation) Last() (Message, bool) {
	if c.Len() == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1].clone(), true
}

// ToolResults returns the ToolResult messages in order.
func (c *Conversation) ToolResults() []Message {
	if c == nil {
		return nil
	}
	var out []Message
	for _, m := range c.messages {
		if m.Kind == KindToolResult {
			out = append(out, m.clone())
		}
	}
	return out
}

// LoopResult is the outcome of Run.
type LoopResult struct {
	Answer       string
	Conversation *Conversation
	// Iterations counts tools-enabled model calls.
	Iterations int
	// ModelCalls counts every model call, including a best-effort final call.
	ModelCalls int
	Status     Status
}
