// Package anthropic implements toolloop.Model on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/skosovsky/toolloop"
)

// DefaultModel is used when WithModel is not given.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 4096

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithSystem sets the system prompt sent with every call.
func WithSystem(prompt string) Option {
	return func(c *Client) {
		c.system = prompt
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.reqOpts = append(c.reqOpts, option.WithBaseURL(url))
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.reqOpts = append(c.reqOpts, option.WithHTTPClient(hc))
	}
}

// Client is a toolloop.Model backed by the Anthropic SDK.
// SDK-level retries are disabled; wrap the client in toolloop.NewRetryModel instead.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
	reqOpts   []option.RequestOption
}

// New creates a Client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, c.reqOpts...)
	c.client = anthropic.NewClient(reqOpts...)
	return c
}

// Converse implements toolloop.Model. A nil tools slice disables tool use: no tools are
// declared and earlier tool traffic in history is sent as plain text.
func (c *Client) Converse(ctx context.Context, history []toolloop.Message, tools []toolloop.ToolSpec) (toolloop.AssistantTurn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(history, tools == nil),
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return toolloop.AssistantTurn{}, classify(ctx, err)
	}
	return parseResponse(msg)
}

func parseResponse(msg *anthropic.Message) (toolloop.AssistantTurn, error) {
	var text strings.Builder
	var reqs []toolloop.ToolRequest
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := toolloop.Args{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return toolloop.AssistantTurn{}, fmt.Errorf("anthropic: decode input of %s: %w", block.Name, err)
				}
			}
			reqs = append(reqs, toolloop.ToolRequest{ID: block.ID, ToolName: block.Name, Args: args})
		}
	}
	return toolloop.AssistantTurn{Text: text.String(), ToolRequests: reqs}, nil
}

// classify marks transport failures, rate limits and server errors as ErrModelUnavailable.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("anthropic: %w", err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("anthropic: %w: %w", toolloop.ErrModelUnavailable, err)
		}
		return fmt.Errorf("anthropic: %w", err)
	}
	return fmt.Errorf("anthropic: %w: %w", toolloop.ErrModelUnavailable, err)
}

func convertMessages(history []toolloop.Message, flatten bool) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	i := 0
	for i < len(history) {
		m := history[i]
		switch m.Kind {
		case toolloop.KindAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, r := range m.ToolRequests {
				if flatten {
					blocks = append(blocks, anthropic.NewTextBlock(describeRequest(r)))
					continue
				}
				input := map[string]any(r.Args)
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(r.ID, input, r.ToolName))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
			i++
		case toolloop.KindToolResult:
			// Consecutive results go back as one user message.
			var blocks []anthropic.ContentBlockParamUnion
			for i < len(history) && history[i].Kind == toolloop.KindToolResult {
				r := history[i]
				if flatten {
					blocks = append(blocks, anthropic.NewTextBlock(describeResult(r)))
				} else {
					blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Text, r.IsError))
				}
				i++
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
			i++
		}
	}
	return result
}

func describeRequest(r toolloop.ToolRequest) string {
	args, err := json.Marshal(r.Args)
	if err != nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("[called tool %s with %s]", r.ToolName, args)
}

func describeResult(m toolloop.Message) string {
	if m.IsError {
		return fmt.Sprintf("[tool %s failed: %s]", m.ToolName, m.Text)
	}
	return fmt.Sprintf("[tool %s returned: %s]", m.ToolName, m.Text)
}

func convertTools(tools []toolloop.ToolSpec) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: t.Parameters["properties"],
			Required:   requiredNames(t.Parameters["required"]),
		}
		// Remaining keywords (additionalProperties, $defs, ...) go through unchanged.
		extra := make(map[string]any)
		for k, v := range t.Parameters {
			switch k {
			case "type", "properties", "required":
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			tp.OfTool.Description = param.NewOpt(t.Description)
		}
		result = append(result, tp)
	}
	return result
}

func requiredNames(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var _ toolloop.Model = (*Client)(nil)
