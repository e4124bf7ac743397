package toolloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Registry holds the fixed set of tools for a run and dispatches requests by name.
// It is mutable until sealed; Run seals it, after which it is read-only and may be
// shared by concurrent runs.
type Registry struct {
	order       []string
	tools       map[string]Tool // wrapped with middlewares, used by Execute
	rawTools    map[string]Tool // unwrapped, used by Use() to re-apply middlewares from scratch
	sem         chan struct{}
	opts        registryOptions
	sealed      bool
	mu          sync.RWMutex
	middlewares []Middleware
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		maxConcurrency: 4,
		recoverPanics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Registry{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
		sem:      sem,
		opts:     o,
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied before registration.
// Returns ErrDuplicateTool if the name is taken and ErrRegistrySealed after Seal.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("%w: tool is nil", ErrInvalidTool)
	}
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidTool)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.rawTools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.rawTools[name] = t
	r.tools[name] = r.wrap(t)
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers tools and panics on the first configuration error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic("toolloop: " + err.Error())
		}
	}
}

// Resolve returns the tool registered under name (after middlewares are applied).
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// DescribeAll returns the model-facing catalog in registration order.
func (r *Registry) DescribeAll() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, ToolSpec{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Seal makes the registry read-only. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Execute runs one request and always returns a ToolResult message correlated to req.ID.
// Unknown tools, invalid arguments, tool errors and recovered panics become error results;
// nothing is propagated to the caller.
//
// A "toolloop.tool" span is recorded with the tracer provider of the span in ctx, if any.
func (r *Registry) Execute(ctx context.Context, req ToolRequest) Message {
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "toolloop.tool", trace.WithAttributes(
		attribute.String("toolloop.tool.name", req.ToolName),
		attribute.String("toolloop.tool.call_id", req.ID),
	))
	defer span.End()
	start := time.Now()
	msg := r.execute(ctx, req)
	if msg.IsError {
		span.SetStatus(codes.Error, msg.Text)
	}
	if r.opts.onAfter != nil {
		r.opts.onAfter(ctx, req, msg, time.Since(start))
	}
	return msg
}

func (r *Registry) execute(ctx context.Context, req ToolRequest) (msg Message) {
	t, err := r.Resolve(req.ToolName)
	if err != nil {
		return ToolResultMessage(req.ID, req.ToolName, "unknown tool: "+req.ToolName, true)
	}
	if err := r.acquireSemaphore(ctx); err != nil {
		return ToolResultMessage(req.ID, req.ToolName, renderToolError(err), true)
	}
	defer r.releaseSemaphore()

	timeout := r.opts.timeout
	if tm, ok := t.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				err := &SystemError{Err: &panicError{p: p}}
				msg = ToolResultMessage(req.ID, req.ToolName, renderToolError(err), true)
			}
		}()
	}

	if r.opts.onBefore != nil {
		r.opts.onBefore(ctx, req)
	}

	out, err := t.Execute(ctx, req.Args)
	if err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return ToolResultMessage(req.ID, req.ToolName, renderToolError(err), true)
	}
	return ToolResultMessage(req.ID, req.ToolName, out, false)
}

// ExecuteBatch runs all requests and returns their results in request order.
// One failure does not affect the others. With parallel set, requests run concurrently,
// bounded by WithMaxConcurrency.
func (r *Registry) ExecuteBatch(ctx context.Context, reqs []ToolRequest, parallel bool) []Message {
	results := make([]Message, len(reqs))
	if !parallel || len(reqs) < 2 {
		for i, req := range reqs {
			results[i] = r.Execute(ctx, req)
		}
		return results
	}
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Go(func() {
			results[i] = r.Execute(ctx, req)
		})
	}
	wg.Wait()
	return results
}

func (r *Registry) acquireSemaphore(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) releaseSemaphore() {
	if r.sem != nil {
		<-r.sem
	}
}

// renderToolError turns a tool failure into the text the model sees.
func renderToolError(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) && errors.Is(ce.Err, ErrInvalidArguments) {
		return ce.Error()
	}
	return "tool error: " + err.Error()
}
