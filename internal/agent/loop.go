package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/structured"
	"github.com/haasonsaas/parley/pkg/models"
)

// ErrNoProvider means the agent was built without a model backend.
var ErrNoProvider = errors.New("agent has no provider")

// FinishReason classifies how a turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishError     FinishReason = "error"
	FinishCancelled FinishReason = "cancelled"
)

// SwitchConsultant runs after each tool batch and may amend results,
// typically by running a nested turn on another agent and appending its
// reply to the triggering tool result.
type SwitchConsultant interface {
	AfterTools(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) []models.ToolResult
}

// ProcessOptions customizes one turn.
type ProcessOptions struct {
	// OnDelta receives raw streaming text increments.
	OnDelta func(text string)

	// OnToolCall fires before a tool executes, OnToolResult after.
	OnToolCall   func(call models.ToolCall)
	OnToolResult func(call models.ToolCall, result models.ToolResult)

	// DisableStore skips committing the user message to context, for
	// probe turns that must leave no trace.
	DisableStore bool

	// Schema is the structured reply shape for this turn.
	Schema structured.Kind

	// Temperature and MaxTokens override the agent config when set.
	Temperature *float32
	MaxTokens   int

	// Switch is consulted after tool execution; nil disables switching.
	Switch SwitchConsultant

	// ContinuationDepth tags stored messages with the current round.
	ContinuationDepth int
}

// TurnResult is the outcome of one Process call.
type TurnResult struct {
	// Response is the user-visible text (channel final or wrapper
	// response when structured, raw text otherwise).
	Response string

	// RawResponse is the unparsed terminal model output, which the
	// channel router consumes.
	RawResponse string

	// ToolCalls and ToolResults cover the turn's single tool round.
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult

	FinishReason FinishReason
	Err          error

	// Continuation is the model's re-entry request, when present.
	Continuation *models.Continuation

	// Plan is set for plan-shaped replies.
	Plan *structured.PlanReply

	InputTokens  int
	OutputTokens int
}

// roundOutput is what one model call produced.
type roundOutput struct {
	text         string
	toolCalls    []models.ToolCall
	inputTokens  int
	outputTokens int
	err          error
}

// Process runs one turn: append the user message, stream the model,
// execute at most one tool batch, stream the tool-result round, and
// parse the terminal reply. The assistant message is committed to
// context only after its round succeeds; cancellation drops partial
// output.
func (a *Agent) Process(ctx context.Context, content string, opts ProcessOptions) (*TurnResult, error) {
	if a.provider == nil {
		return nil, ErrNoProvider
	}

	start := time.Now()
	sessionID, _ := ctx.Value(observability.SessionIDKey).(string)
	turnCtx, span := a.tracer.TraceTurn(ctx, sessionID, a.cfg.ID)
	defer span.End()
	ctx = turnCtx

	if !opts.DisableStore {
		a.context.Append(models.Message{
			Role:     models.RoleUser,
			Content:  content,
			AgentID:  a.cfg.ID,
			Metadata: roundMetadata(opts.ContinuationDepth),
		})
	}

	messages := a.context.Messages()
	if opts.DisableStore {
		messages = append(messages, models.Message{
			ID:      uuid.NewString(),
			Role:    models.RoleUser,
			Content: content,
			AgentID: a.cfg.ID,
		})
	}

	result := &TurnResult{FinishReason: FinishStop}

	round := a.callModel(ctx, messages, opts, true)
	if round.err != nil {
		a.finishTurn(ctx, result, round, start)
		return result, nil
	}
	result.InputTokens += round.inputTokens
	result.OutputTokens += round.outputTokens

	assistant := models.Message{
		Role:      models.RoleAssistant,
		Content:   round.text,
		ToolCalls: round.toolCalls,
		AgentID:   a.cfg.ID,
		Metadata:  roundMetadata(opts.ContinuationDepth),
	}
	a.context.Append(assistant)

	if len(round.toolCalls) == 0 {
		a.parseTerminal(result, round.text)
		a.recordTurn(ctx, "ok", start)
		return result, nil
	}

	result.ToolCalls = round.toolCalls
	results := a.runToolBatch(ctx, round.toolCalls, opts)
	result.ToolResults = results

	for i, call := range round.toolCalls {
		meta := roundMetadata(opts.ContinuationDepth)
		if results[i].IsError {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["is_error"] = true
		}
		a.context.Append(models.Message{
			Role:       models.RoleTool,
			Content:    results[i].Content,
			ToolCallID: call.ID,
			AgentID:    a.cfg.ID,
			Metadata:   meta,
		})
	}

	messages = a.context.Messages()
	round = a.callModel(ctx, messages, opts, false)
	if round.err != nil {
		a.finishTurn(ctx, result, round, start)
		return result, nil
	}
	result.InputTokens += round.inputTokens
	result.OutputTokens += round.outputTokens

	if len(round.toolCalls) > 0 {
		// The tool-result round may not request more tools; only the
		// continuation controller re-enters the loop.
		a.logger.Warn(ctx, "dropping tool calls from tool-result round",
			"count", len(round.toolCalls))
	}

	a.context.Append(models.Message{
		Role:     models.RoleAssistant,
		Content:  round.text,
		AgentID:  a.cfg.ID,
		Metadata: roundMetadata(opts.ContinuationDepth),
	})

	a.parseTerminal(result, round.text)
	a.recordTurn(ctx, "ok", start)
	return result, nil
}

// runToolBatch executes calls sequentially in declaration order and
// consults the switch handler. Failed calls yield error results and
// never abort the batch.
func (a *Agent) runToolBatch(ctx context.Context, calls []models.ToolCall, opts ProcessOptions) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		if opts.OnToolCall != nil {
			opts.OnToolCall(call)
		}
		var res models.ToolResult
		if a.executor != nil {
			res = a.executor.Execute(ctx, call)
		} else {
			res = models.ToolResult{ToolCallID: call.ID, Content: "no tool executor configured", IsError: true}
		}
		results = append(results, res)
		if opts.OnToolResult != nil {
			opts.OnToolResult(call, res)
		}
	}
	if opts.Switch != nil {
		results = opts.Switch.AfterTools(ctx, calls, results)
	}
	return results
}

// callModel streams one completion and collects text plus tool calls.
// allowTools gates whether the tool view is advertised.
func (a *Agent) callModel(ctx context.Context, messages []models.Message, opts ProcessOptions, allowTools bool) roundOutput {
	req := &CompletionRequest{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if allowTools {
		req.Tools = a.toolDefs
	}

	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		req.System = messages[0].Content
		messages = messages[1:]
	}
	req.Messages = messages

	if opts.Schema != structured.KindNone {
		schema, err := structured.Schema(opts.Schema)
		if err != nil {
			a.logger.Warn(ctx, "schema generation failed", "kind", opts.Schema.String(), "error", err)
		} else {
			req.ResponseSchema = schema
			req.SchemaName = opts.Schema.String()
		}
	}

	start := time.Now()
	callCtx, span := a.tracer.TraceModelCall(ctx, a.provider.Name(), req.Model)
	defer span.End()

	var out roundOutput
	chunks, err := a.provider.Complete(callCtx, req)
	if err != nil {
		out.err = err
		a.recordModelCall(req, "error", start, out)
		return out
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			out.text = text.String()
			out.err = chunk.Error
			a.tracer.RecordError(span, chunk.Error)
			a.recordModelCall(req, "error", start, out)
			return out
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if opts.OnDelta != nil {
				opts.OnDelta(chunk.Text)
			}
		}
		if chunk.ToolCall != nil {
			out.toolCalls = append(out.toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			out.inputTokens = chunk.InputTokens
			out.outputTokens = chunk.OutputTokens
		}
	}

	if err := callCtx.Err(); err != nil {
		out.text = text.String()
		out.err = err
		a.recordModelCall(req, "cancelled", start, out)
		return out
	}

	out.text = text.String()
	a.recordModelCall(req, "ok", start, out)
	return out
}

func (a *Agent) parseTerminal(result *TurnResult, raw string) {
	parsed := structured.ParseReply(raw)
	result.RawResponse = raw
	result.Response = parsed.Text
	result.Continuation = parsed.Continuation
	result.Plan = parsed.Plan
}

// finishTurn classifies a failed round. The partial text is surfaced
// for the continuation heuristic but never committed to context.
func (a *Agent) finishTurn(ctx context.Context, result *TurnResult, round roundOutput, start time.Time) {
	result.Response = round.text
	result.RawResponse = round.text
	result.Err = round.err
	if errors.Is(round.err, context.Canceled) || errors.Is(round.err, context.DeadlineExceeded) {
		result.FinishReason = FinishCancelled
		a.recordTurn(ctx, "cancelled", start)
		return
	}
	result.FinishReason = FinishError
	a.logger.Error(ctx, "turn failed", "error", round.err)
	a.recordTurn(ctx, "error", start)
}

func (a *Agent) recordTurn(ctx context.Context, status string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordTurn(a.cfg.ID, status, time.Since(start).Seconds())
	}
}

func (a *Agent) recordModelCall(req *CompletionRequest, status string, start time.Time, out roundOutput) {
	if a.metrics != nil {
		a.metrics.RecordModelRequest(a.provider.Name(), req.Model, status,
			time.Since(start).Seconds(), out.inputTokens, out.outputTokens)
	}
}

func roundMetadata(depth int) map[string]any {
	if depth <= 0 {
		return nil
	}
	return map[string]any{"continuation_round": depth}
}
