package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// toolCallNotice is the payload of the tool.call notification asking
// the client to run a client-side tool.
type toolCallNotice struct {
	SessionID  string          `json:"sessionId"`
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
}

type clientResult struct {
	content string
	isError bool
}

// toolWaiters bridges client-side tool calls to provideToolResult. One
// waiter per in-flight tool call, keyed by tool-call id.
type toolWaiters struct {
	notify func(ctx context.Context, call toolCallNotice)
	logger *observability.Logger

	mu      sync.Mutex
	pending map[string]chan clientResult
}

func newToolWaiters(notify func(ctx context.Context, call toolCallNotice), logger *observability.Logger) *toolWaiters {
	return &toolWaiters{
		notify:  notify,
		logger:  logger.Named("waiters"),
		pending: make(map[string]chan clientResult),
	}
}

// Await implements tools.ClientResolver.
func (w *toolWaiters) Await(ctx context.Context, call models.ToolCall) (*tools.Result, error) {
	ch := make(chan clientResult, 1)
	w.mu.Lock()
	if _, exists := w.pending[call.ID]; exists {
		w.mu.Unlock()
		return nil, fmt.Errorf("tool call %s already pending", call.ID)
	}
	w.pending[call.ID] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, call.ID)
		w.mu.Unlock()
	}()

	if w.notify != nil {
		w.notify(ctx, toolCallNotice{ToolCallID: call.ID, Name: call.Name, Input: call.Input})
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for client result: %w", ctx.Err())
	case res := <-ch:
		return &tools.Result{Content: res.content, IsError: res.isError}, nil
	}
}

// Resolve delivers a client result to its waiter. False means no tool
// call with that id is waiting.
func (w *toolWaiters) Resolve(toolCallID, content string, isError bool) bool {
	w.mu.Lock()
	ch, ok := w.pending[toolCallID]
	if ok {
		delete(w.pending, toolCallID)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- clientResult{content: content, isError: isError}
	return true
}
