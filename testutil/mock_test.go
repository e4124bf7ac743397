package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/toolloop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMockTool(t *testing.T) {
	m := &MockTool{
		NameVal:   "test_tool",
		DescVal:   "For tests",
		ParamsVal: map[string]any{"type": "object"},
		ExecuteFn: func(_ context.Context, args toolloop.Args) (string, error) {
			return "got " + args.String("q"), nil
		},
	}
	assert.Equal(t, "test_tool", m.Name())
	assert.Equal(t, "For tests", m.Description())
	assert.Equal(t, map[string]any{"type": "object"}, m.Parameters())
	out, err := m.Execute(context.Background(), toolloop.Args{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "got x", out)
}

func TestNewTestRegistry(t *testing.T) {
	m := &MockTool{NameVal: "m", ExecuteFn: func(_ context.Context, _ toolloop.Args) (string, error) {
		return "ok", nil
	}}
	reg := NewTestRegistry(m)
	require.NotNil(t, reg)
	all := reg.DescribeAll()
	require.Len(t, all, 1)
	assert.Equal(t, "m", all[0].Name)
	res := reg.Execute(context.Background(), toolloop.ToolRequest{ID: "1", ToolName: "m"})
	assert.False(t, res.IsError)
	assert.Equal(t, "ok", res.Text)
}

func TestScriptedModel(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel(
		Request(toolloop.ToolRequest{ID: "1", ToolName: "m"}),
		Fail(boom),
		Reply("done"),
	)
	ctx := context.Background()
	turn, err := m.Converse(ctx, []toolloop.Message{toolloop.UserMessage("hi")}, nil)
	require.NoError(t, err)
	require.Len(t, turn.ToolRequests, 1)
	_, err = m.Converse(ctx, nil, nil)
	require.ErrorIs(t, err, boom)
	turn, err = m.Converse(ctx, nil, []toolloop.ToolSpec{{Name: "m"}})
	require.NoError(t, err)
	assert.Equal(t, "done", turn.Text)
	_, err = m.Converse(ctx, nil, nil)
	require.ErrorIs(t, err, ErrScriptExhausted)

	calls := m.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, 4, m.CallCount())
	assert.Equal(t, "hi", calls[0].History[0].Text)
	assert.Nil(t, calls[1].Tools)
	assert.Len(t, calls[2].Tools, 1)
}

func TestScriptedModel_Fallback(t *testing.T) {
	m := NewScriptedModel(Reply("first"))
	m.Fallback = func(call int, _ []toolloop.Message, _ []toolloop.ToolSpec) (toolloop.AssistantTurn, error) {
		return toolloop.AssistantTurn{Text: "fallback"}, nil
	}
	ctx := context.Background()
	turn, err := m.Converse(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", turn.Text)
	turn, err = m.Converse(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", turn.Text)
}
