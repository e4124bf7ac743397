// Package toolloop runs the tool-invocation loop of an LLM agent: the model is asked for
// either a final answer or a set of tool requests, requested tools run locally, their
// results are fed back, and the cycle repeats until a final answer or the iteration
// budget is spent.
//
// # Overview
//
// Pipeline: Go function + declared parameters (or a typed argument struct) → NewFuncTool /
// NewTool → Tool → Registry → Run (converse, dispatch, append) → LoopResult.
//
// # Key concepts
//
//   - The model is an injected capability (Model). The loop never talks to a network API
//     and never retries; wrap the model with NewRetryModel for that.
//   - Graceful degradation: unknown tool names, invalid arguments and tool failures become
//     error ToolResults the model can react to. Only configuration mistakes and model
//     failures end a run with an error.
//   - Ordered history: ToolResults are appended in request order, also when a turn's
//     requests run in parallel (WithParallelTools).
//   - Budget exhaustion is a terminal state with two strategies: StrategyFail returns
//     ErrBudgetExhausted, StrategyBestEffort makes one last call with tools disabled.
//
// # Example
//
//	echo := toolloop.MustTool(toolloop.NewFuncTool("echo", "Echo text back",
//	    []toolloop.Parameter{{Name: "text", Type: toolloop.TypeString}},
//	    func(_ context.Context, a toolloop.Args) (string, error) { return a.String("text"), nil }))
//	reg := toolloop.NewRegistry()
//	reg.MustRegister(echo)
//	res, err := toolloop.Run(ctx, "say hi", reg, model, toolloop.WithMaxIterations(5))
package toolloop
