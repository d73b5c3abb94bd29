package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Parameter limits guarding against resource exhaustion.
const (
	// MaxParamsSize bounds tool parameter JSON (1 MiB).
	MaxParamsSize = 1 << 20
)

// ExecutorConfig configures execution behavior.
type ExecutorConfig struct {
	// MaxConcurrency bounds parallel executions (workers). The agent
	// loop executes sequentially regardless; the bound protects shared
	// downstream resources.
	MaxConcurrency int

	// DefaultTimeout bounds one tool execution.
	DefaultTimeout time.Duration

	// DefaultRetries is the retry count for retryable error classes.
	DefaultRetries int

	// RetryBackoff is the initial backoff between retries; it doubles
	// per attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the standard executor settings.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  1,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// Executor runs tool calls against a registry with schema validation,
// per-call timeout, panic recovery, and retry for retryable failures.
// Execution never returns an error to the caller: every failure becomes
// an error Result so the turn can proceed.
type Executor struct {
	registry *Registry
	config   *ExecutorConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	sem chan struct{}

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
	client   ClientResolver
}

// ClientResolver supplies results for tools whose spec marks them
// ClientSide. The gateway installs one; Await blocks until the client
// answers via provideToolResult or the context ends.
type ClientResolver interface {
	Await(ctx context.Context, call models.ToolCall) (*Result, error)
}

// NewExecutor creates an executor over the registry. Metrics and tracer
// may be nil.
func NewExecutor(registry *Registry, config *ExecutorConfig, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Executor{
		registry: registry,
		config:   config,
		logger:   logger.Named("executor"),
		metrics:  metrics,
		tracer:   tracer,
		sem:      make(chan struct{}, config.MaxConcurrency),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// ExecuteAll runs the calls in declaration order and returns one result
// per call, in the same order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = e.Execute(ctx, call)
	}
	return results
}

// Execute runs one tool call end to end and always returns a result.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	res := e.execute(ctx, call)
	if e.metrics != nil {
		status := "success"
		if res.IsError {
			status = "error"
		}
		e.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	}
	return res
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	errResult := func(err error) models.ToolResult {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	if len(call.Input) > MaxParamsSize {
		return errResult(NewError(call.Name, fmt.Errorf("parameters exceed %d bytes", MaxParamsSize)).
			WithType(ErrorInvalidInput).WithCallID(call.ID))
	}

	tool := e.registry.Get(call.Name)
	if tool == nil {
		return errResult(NewError(call.Name, ErrToolNotFound).WithCallID(call.ID))
	}

	if err := e.validateParams(call, tool); err != nil {
		return errResult(err)
	}

	if e.registry.IsClientSide(call.Name) {
		return e.executeClientSide(ctx, call, errResult)
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return errResult(NewError(call.Name, ctx.Err()).WithType(ErrorTimeout).WithCallID(call.ID))
	}

	if e.tracer != nil {
		spanCtx, span := e.tracer.TraceToolExecution(ctx, call.Name)
		defer span.End()
		ctx = spanCtx
	}

	timeout := e.config.DefaultTimeout
	backoff := e.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= e.config.DefaultRetries; attempt++ {
		result, err := e.runOnce(ctx, tool, call, timeout)
		if err == nil {
			if result == nil {
				result = &Result{Content: "", IsError: false}
			}
			return models.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError, Metadata: result.Metadata}
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt >= e.config.DefaultRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = NewError(call.Name, ctx.Err()).WithType(ErrorTimeout).WithCallID(call.ID)
		}
	}

	e.logger.Warn(ctx, "tool execution failed", "tool", call.Name, "error", lastErr)
	return errResult(lastErr)
}

// SetClientResolver installs the bridge for client-side tools.
func (e *Executor) SetClientResolver(r ClientResolver) {
	e.mu.Lock()
	e.client = r
	e.mu.Unlock()
}

func (e *Executor) clientResolver() ClientResolver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// executeClientSide forwards the call to the connected client and waits
// for provideToolResult, bounded by the standard execution timeout.
func (e *Executor) executeClientSide(ctx context.Context, call models.ToolCall, errResult func(error) models.ToolResult) models.ToolResult {
	resolver := e.clientResolver()
	if resolver == nil {
		return errResult(NewError(call.Name, fmt.Errorf("client-side tool has no connected client")).WithCallID(call.ID))
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	result, err := resolver.Await(waitCtx, call)
	if err != nil {
		return errResult(NewError(call.Name, err).WithType(ErrorTimeout).WithCallID(call.ID))
	}
	if result == nil {
		result = &Result{}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError, Metadata: result.Metadata}
}

// runOnce executes the tool under a timeout with panic recovery.
func (e *Executor) runOnce(ctx context.Context, tool Tool, call models.ToolCall, timeout time.Duration) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewError(call.Name, fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, debug.Stack())).
					WithType(ErrorPanic).WithCallID(call.ID)}
			}
		}()
		res, err := tool.Execute(execCtx, call.Input)
		if err != nil {
			done <- outcome{err: NewError(call.Name, err).WithCallID(call.ID)}
			return
		}
		done <- outcome{result: res}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewError(call.Name, ctx.Err()).WithType(ErrorTimeout).
				WithCallID(call.ID).WithMessage("context cancelled")
		}
		return nil, NewError(call.Name, ErrToolTimeout).WithType(ErrorTimeout).
			WithCallID(call.ID).WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// validateParams checks call input against the tool's JSON schema.
// Tools with no schema accept anything.
func (e *Executor) validateParams(call models.ToolCall, tool Tool) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	schema, err := e.compileSchema(call.Name, raw)
	if err != nil {
		// An invalid schema is a tool bug; do not block the call on it.
		e.logger.Warn(context.Background(), "invalid tool schema, skipping validation", "tool", call.Name, "error", err)
		return nil
	}

	input := call.Input
	if len(bytes.TrimSpace(input)) == 0 {
		input = []byte("{}")
	}
	var value any
	if err := json.Unmarshal(input, &value); err != nil {
		return NewError(call.Name, fmt.Errorf("invalid JSON parameters: %w", err)).
			WithType(ErrorInvalidInput).WithCallID(call.ID)
	}
	if err := schema.Validate(value); err != nil {
		return NewError(call.Name, fmt.Errorf("invalid parameters: %w", err)).
			WithType(ErrorInvalidInput).WithCallID(call.ID)
	}
	return nil
}

func (e *Executor) compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.compiled[name]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, err
	}
	e.compiled[name] = schema
	return schema, nil
}
