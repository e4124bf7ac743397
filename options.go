package toolloop

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// toolOptions hold optional tool settings.
type toolOptions struct {
	timeout time.Duration
	tags    []string
}

// ToolOption configures a tool (e.g. WithTimeout, WithTags).
type ToolOption func(*toolOptions)

// WithTimeout sets a per-tool execution timeout. It overrides the registry default.
func WithTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		o.timeout = d
	}
}

// WithTags sets tool tags (metadata for discovery and logs).
func WithTags(tags ...string) ToolOption {
	return func(o *toolOptions) {
		o.tags = tags
	}
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, ToolRequest)
	onAfter        func(context.Context, ToolRequest, Message, time.Duration)
}

// WithDefaultTimeout sets the default execution timeout for tools. Zero (the default)
// imposes none; tools that need a bound should set it themselves or via WithTimeout.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.timeout = d
	}
}

// WithMaxConcurrency bounds concurrent tool executions when a run dispatches in parallel.
// Pass 0 or negative to disable the semaphore.
func WithMaxConcurrency(n int) RegistryOption {
	return func(o *registryOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery during tool execution.
func WithRecoverPanics(enable bool) RegistryOption {
	return func(o *registryOptions) {
		o.recoverPanics = enable
	}
}

// WithOnBeforeExecute sets a hook called before each tool execution.
func WithOnBeforeExecute(fn func(context.Context, ToolRequest)) RegistryOption {
	return func(o *registryOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called with the ToolResult message of each execution,
// including synthesized error results.
func WithOnAfterExecute(fn func(context.Context, ToolRequest, Message, time.Duration)) RegistryOption {
	return func(o *registryOptions) {
		o.onAfter = fn
	}
}

// ExhaustionStrategy decides what Run does when the iteration budget runs out.
type ExhaustionStrategy int

const (
	// StrategyFail returns ErrBudgetExhausted.
	StrategyFail ExhaustionStrategy = iota
	// StrategyBestEffort makes one more model call with tools disabled and returns its text.
	StrategyBestEffort
)

func (s ExhaustionStrategy) String() string {
	switch s {
	case StrategyFail:
		return "fail"
	case StrategyBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// DefaultMaxIterations is the iteration budget used when WithMaxIterations is not set.
const DefaultMaxIterations = 10

// RunOption configures a Runner.
type RunOption func(*runOptions)

type runOptions struct {
	maxIterations int
	strategy      ExhaustionStrategy
	parallel      bool
	logger        *slog.Logger
	tracer        trace.Tracer
	onTurn        func(context.Context, int, AssistantTurn)
}

func defaultRunOptions() runOptions {
	return runOptions{
		maxIterations: DefaultMaxIterations,
		strategy:      StrategyFail,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:        otel.Tracer(tracerName),
	}
}

// WithMaxIterations sets the iteration budget. Negative values are treated as zero.
func WithMaxIterations(n int) RunOption {
	return func(o *runOptions) {
		o.maxIterations = max(n, 0)
	}
}

// WithExhaustionStrategy selects the policy applied when the budget runs out.
func WithExhaustionStrategy(s ExhaustionStrategy) RunOption {
	return func(o *runOptions) {
		o.strategy = s
	}
}

// WithParallelTools executes the tool requests of one turn concurrently. Results are
// still appended in request order.
func WithParallelTools(enable bool) RunOption {
	return func(o *runOptions) {
		o.parallel = enable
	}
}

// WithLogger sets the run logger. A nil logger keeps the default, which discards.
func WithLogger(logger *slog.Logger) RunOption {
	return func(o *runOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run, model and tool spans.
func WithTracer(tracer trace.Tracer) RunOption {
	return func(o *runOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithOnTurn sets a hook called with every tools-enabled AssistantTurn, after id normalization.
func WithOnTurn(fn func(ctx context.Context, iteration int, turn AssistantTurn)) RunOption {
	return func(o *runOptions) {
		o.onTurn = fn
	}
}
