package toolloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/skosovsky/toolloop"

// Runner drives the tool-invocation loop for one registry and one model.
// A Runner holds no per-run state and is safe for concurrent use.
type Runner struct {
	registry *Registry
	model    Model
	opts     runOptions
}

// NewRunner creates a Runner. The registry is sealed on the first Run.
func NewRunner(registry *Registry, model Model, opts ...RunOption) (*Runner, error) {
	if registry == nil {
		return nil, errors.New("toolloop: registry must not be nil")
	}
	if model == nil {
		return nil, errors.New("toolloop: model must not be nil")
	}
	o := defaultRunOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{registry: registry, model: model, opts: o}, nil
}

// Run executes one loop with a fresh Runner. See Runner.Run.
func Run(ctx context.Context, request string, registry *Registry, model Model, opts ...RunOption) (*LoopResult, error) {
	r, err := NewRunner(registry, model, opts...)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, request)
}

// Run asks the model for a final answer or tool requests, executes requested tools and
// feeds their results back until the model answers without tool requests or the iteration
// budget is spent.
//
// The returned LoopResult is non-nil whenever the request was accepted, including on error,
// so the partial conversation can be inspected. Errors: ErrEmptyRequest; *ModelError when
// the model fails (wrapping e.g. ErrModelUnavailable); ErrBudgetExhausted under StrategyFail;
// ctx.Err() when cancelled between iterations. Tool failures never end a run.
func (r *Runner) Run(ctx context.Context, request string) (*LoopResult, error) {
	if strings.TrimSpace(request) == "" {
		return nil, ErrEmptyRequest
	}
	r.registry.Seal()
	catalog := r.registry.DescribeAll()

	ctx, span := r.opts.tracer.Start(ctx, "toolloop.run", trace.WithAttributes(
		attribute.Int("toolloop.max_iterations", r.opts.maxIterations),
		attribute.String("toolloop.exhaustion_strategy", r.opts.strategy.String()),
		attribute.Int("toolloop.tools", len(catalog)),
	))
	defer span.End()

	st := &runState{
		ctx:    ctx,
		span:   span,
		result: &LoopResult{Conversation: newConversation(request)},
	}
	for st.result.Iterations < r.opts.maxIterations {
		if err := ctx.Err(); err != nil {
			return r.finish(st, StatusCancelled, err)
		}
		iteration := st.result.Iterations + 1
		turn, err := r.converse(ctx, st, catalog, iteration)
		if err != nil {
			return r.modelFailed(st, iteration, err)
		}
		st.result.Iterations = iteration
		turn.ToolRequests = normalizeRequestIDs(turn.ToolRequests)
		if r.opts.onTurn != nil {
			r.opts.onTurn(ctx, iteration, turn)
		}
		st.result.Conversation.append(AssistantMessage(turn.Text, turn.ToolRequests...))
		if len(turn.ToolRequests) == 0 {
			st.result.Answer = turn.Text
			return r.finish(st, StatusSuccess, nil)
		}
		r.opts.logger.DebugContext(ctx, "dispatching tool requests",
			"iteration", iteration, "requests", len(turn.ToolRequests))
		for _, m := range r.registry.ExecuteBatch(ctx, turn.ToolRequests, r.opts.parallel) {
			if m.IsError {
				r.opts.logger.WarnContext(ctx, "tool request failed",
					"iteration", iteration, "tool", m.ToolName, "call_id", m.CallID, "error", m.Text)
			}
			st.result.Conversation.append(m)
		}
	}
	if err := ctx.Err(); err != nil {
		return r.finish(st, StatusCancelled, err)
	}
	return r.exhausted(st)
}

type runState struct {
	ctx    context.Context
	span   trace.Span
	result *LoopResult
}

func (r *Runner) exhausted(st *runState) (*LoopResult, error) {
	r.opts.logger.InfoContext(st.ctx, "iteration budget exhausted",
		"iterations", st.result.Iterations, "strategy", r.opts.strategy.String())
	if r.opts.strategy != StrategyBestEffort {
		return r.finish(st, StatusBudgetExhausted,
			fmt.Errorf("%w after %d iterations", ErrBudgetExhausted, st.result.Iterations))
	}
	// Tools are disabled for this call; requests it returns anyway are dropped.
	turn, err := r.converse(st.ctx, st, nil, st.result.Iterations+1)
	if err != nil {
		return r.modelFailed(st, st.result.Iterations+1, err)
	}
	st.result.Conversation.append(AssistantMessage(turn.Text))
	st.result.Answer = turn.Text
	return r.finish(st, StatusBudgetExhausted, nil)
}

// modelFailed ends the run after a failed model call. A call aborted because the run's
// context ended is a cancellation, not a model failure.
func (r *Runner) modelFailed(st *runState, iteration int, err error) (*LoopResult, error) {
	if ctxErr := st.ctx.Err(); ctxErr != nil {
		return r.finish(st, StatusCancelled, ctxErr)
	}
	return r.finish(st, StatusModelFailed, &ModelError{Iteration: iteration, Err: err})
}

func (r *Runner) converse(ctx context.Context, st *runState, catalog []ToolSpec, iteration int) (AssistantTurn, error) {
	ctx, span := r.opts.tracer.Start(ctx, "toolloop.converse", trace.WithAttributes(
		attribute.Int("toolloop.iteration", iteration),
		attribute.Bool("toolloop.tools_enabled", catalog != nil),
	))
	defer span.End()
	st.result.ModelCalls++
	turn, err := r.model.Converse(ctx, st.result.Conversation.Messages(), catalog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AssistantTurn{}, err
	}
	span.SetAttributes(attribute.Int("toolloop.tool_requests", len(turn.ToolRequests)))
	return turn, nil
}

func (r *Runner) finish(st *runState, status Status, err error) (*LoopResult, error) {
	st.result.Status = status
	st.span.SetAttributes(
		attribute.String("toolloop.status", string(status)),
		attribute.Int("toolloop.iterations", st.result.Iterations),
		attribute.Int("toolloop.model_calls", st.result.ModelCalls),
	)
	if err != nil {
		st.span.RecordError(err)
		st.span.SetStatus(codes.Error, err.Error())
		r.opts.logger.ErrorContext(st.ctx, "run failed", "status", status,
			"iterations", st.result.Iterations, "error", err)
		return st.result, err
	}
	r.opts.logger.InfoContext(st.ctx, "run finished", "status", status,
		"iterations", st.result.Iterations, "model_calls", st.result.ModelCalls)
	return st.result, nil
}

// normalizeRequestIDs returns a copy of reqs in which every id is non-empty and unique
// within the turn; offending ids are replaced with generated ones.
func normalizeRequestIDs(reqs []ToolRequest) []ToolRequest {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]ToolRequest, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for i, req := range reqs {
		req = req.clone()
		if _, dup := seen[req.ID]; req.ID == "" || dup {
			req.ID = "call_" + uuid.NewString()
		}
		seen[req.ID] = struct{}{}
		out[i] = req
	}
	return out
}
