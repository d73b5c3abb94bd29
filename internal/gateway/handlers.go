package gateway

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/parley/internal/channels"
	"github.com/haasonsaas/parley/internal/session"
	"github.com/haasonsaas/parley/internal/workers"
	"github.com/haasonsaas/parley/pkg/models"
)

type startSessionParams struct {
	UserID        string         `json:"userId"`
	SessionParams map[string]any `json:"sessionParams,omitempty"`
}

type sendUserMessageParams struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type provideToolResultParams struct {
	SessionID  string `json:"sessionId"`
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
	IsError    bool   `json:"isError,omitempty"`
}

type sessionRefParams struct {
	SessionID string `json:"sessionId"`
}

type switchAgentParams struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"sessionId,omitempty"`
}

type handoffParams struct {
	ToAgent   string `json:"to_agent"`
	SessionID string `json:"sessionId,omitempty"`
}

type historyParams struct {
	SessionID     string   `json:"sessionId"`
	Channels      []string `json:"channels,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	SinceSequence int64    `json:"sinceSequence,omitempty"`
}

type visibilityParams struct {
	SessionID      string `json:"sessionId"`
	ShowCommentary bool   `json:"showCommentary"`
	ShowAnalysis   bool   `json:"showAnalysis"`
}

type asyncAgentParams struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

type asyncSleepParams struct {
	AgentID    string   `json:"agent_id"`
	Duration   string   `json:"duration,omitempty"`
	WakeEvents []string `json:"wake_events,omitempty"`
	Cron       string   `json:"cron,omitempty"`
}

type asyncTaskParams struct {
	AgentID string `json:"agent_id"`
	Task    string `json:"task"`
}

type broadcastParams struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

func (c *conn) dispatch(req *rpcRequest) (result any, rpcErr *rpcError) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(c.ctx, "handler panic", "method", req.Method, "panic", r, "stack", string(debug.Stack()))
			result, rpcErr = nil, errInternal(fmt.Sprintf("internal error in %s", req.Method))
		}
	}()

	switch req.Method {
	case "startSession":
		return c.handleStartSession(req.Params)
	case "sendUserMessage":
		return c.handleSendUserMessage(req.Params)
	case "provideToolResult":
		return c.handleProvideToolResult(req.Params)
	case "stopSession":
		return c.handleStopSession(req.Params)
	case "agent.list":
		return c.handleAgentList()
	case "session.switch_agent":
		return c.handleSwitchAgent(req.Params)
	case "session.current_agent":
		return c.handleCurrentAgent(req.Params)
	case "session.handoff":
		return c.handleHandoff(req.Params)
	case "channel.history":
		return c.handleChannelHistory(req.Params)
	case "channel.updateVisibility":
		return c.handleUpdateVisibility(req.Params)
	case "channel.stats":
		return c.handleChannelStats(req.Params)
	case "async.createAgent":
		return c.handleAsyncCreate(req.Params)
	case "async.startAgent":
		return c.handleAsyncStart(req.Params)
	case "async.stopAgent":
		return c.handleAsyncStop(req.Params)
	case "async.sleepAgent":
		return c.handleAsyncSleep(req.Params)
	case "async.wakeAgent":
		return c.handleAsyncWake(req.Params)
	case "async.sendTask":
		return c.handleAsyncSendTask(req.Params)
	case "async.getAgentStates":
		return c.handleAsyncStates()
	case "async.broadcastEvent":
		return c.handleAsyncBroadcast(req.Params)
	default:
		return nil, errMethodNotFound(req.Method)
	}
}

func decodeParams[T any](raw json.RawMessage) (T, *rpcError) {
	var params T
	if len(raw) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, errInvalidParams("invalid params: " + err.Error())
	}
	return params, nil
}

// resolveSession finds the session for a request, falling back to the
// connection's most recent one when the id is omitted.
func (c *conn) resolveSession(id string) (*session.Session, *rpcError) {
	if id == "" {
		id = c.defaultSession()
	}
	if id == "" {
		return nil, errInvalidParams("sessionId is required")
	}
	sess, ok := c.server.deps.Sessions.Get(id)
	if !ok {
		return nil, errNotFound(fmt.Sprintf("session %s not found", id))
	}
	return sess, nil
}

func (c *conn) handleStartSession(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[startSessionParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.UserID == "" {
		return nil, errInvalidParams("userId is required")
	}

	sess, status, err := c.server.deps.Sessions.Create(c.ctx, params.UserID, c)
	if err != nil {
		return nil, errInternal("start session: " + err.Error())
	}
	c.trackSession(sess.ID())

	return map[string]any{
		"sessionId": sess.ID(),
		"status":    int(status),
	}, nil
}

func (c *conn) handleSendUserMessage(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[sendUserMessageParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.Message == "" {
		return nil, errInvalidParams("message is required")
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}

	outcome, err := sess.SendUserMessage(c.ctx, params.Message)
	if err != nil {
		return nil, errInternal("send message: " + err.Error())
	}

	result := map[string]any{
		"messageId": outcome.MessageID,
		"status":    int(outcome.Status),
	}
	if outcome.Response != "" {
		result["ai_response"] = outcome.Response
	}
	if len(outcome.ToolCalls) > 0 {
		result["tool_calls"] = outcome.ToolCalls
	}
	return result, nil
}

func (c *conn) handleProvideToolResult(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[provideToolResultParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.ToolCallID == "" {
		return nil, errInvalidParams("toolCallId is required")
	}

	status := models.ToolResultOK
	if !c.server.waiters.Resolve(params.ToolCallID, params.Result, params.IsError) {
		status = models.ToolResultError
	}
	return map[string]any{"status": int(status)}, nil
}

func (c *conn) handleStopSession(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[sessionRefParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}

	if err := c.server.deps.Sessions.Stop(c.ctx, sess.ID()); err != nil {
		return nil, errNotFound(err.Error())
	}
	c.untrackSession(sess.ID())
	return map[string]any{"status": int(models.SessionStopped)}, nil
}

func (c *conn) handleAgentList() (any, *rpcError) {
	agents := make([]models.AgentInfo, 0, len(c.server.deps.Config.Agents))
	for _, cfg := range c.server.deps.Config.Agents {
		agents = append(agents, cfg.Info())
	}
	return map[string]any{"agents": agents}, nil
}

func (c *conn) handleSwitchAgent(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[switchAgentParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.AgentID == "" {
		return nil, errInvalidParams("agent_id is required")
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}

	id, ok := sess.ResolveAgentID(params.AgentID)
	if !ok {
		return nil, errNotFound(fmt.Sprintf("agent %s not found", params.AgentID))
	}
	if err := sess.SwitchAgent(c.ctx, id); err != nil {
		return nil, errNotFound(err.Error())
	}
	return map[string]any{
		"success":       true,
		"current_agent": sess.ActiveAgentID(),
	}, nil
}

func (c *conn) handleCurrentAgent(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[sessionRefParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}
	return map[string]any{"current_agent": sess.ActiveAgentID()}, nil
}

func (c *conn) handleHandoff(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[handoffParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.ToAgent == "" {
		return nil, errInvalidParams("to_agent is required")
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}

	from := sess.ActiveAgentID()
	id, ok := sess.ResolveAgentID(params.ToAgent)
	if !ok {
		return nil, errNotFound(fmt.Sprintf("agent %s not found", params.ToAgent))
	}
	if err := sess.SwitchAgent(c.ctx, id); err != nil {
		return nil, errNotFound(err.Error())
	}
	return map[string]any{
		"success":    true,
		"from_agent": from,
		"to_agent":   sess.ActiveAgentID(),
	}, nil
}

func (c *conn) handleChannelHistory(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[historyParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}

	wanted := make(map[models.Channel]bool, len(params.Channels))
	for _, ch := range params.Channels {
		wanted[models.Channel(ch)] = true
	}

	all := sess.Router().History(channels.HistoryFilter{})
	out := make([]models.ChannelMessage, 0, len(all))
	for _, msg := range all {
		if len(wanted) > 0 && !wanted[msg.Channel] {
			continue
		}
		if params.SinceSequence > 0 && msg.Sequence <= params.SinceSequence {
			continue
		}
		out = append(out, msg)
	}
	total := len(out)
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[len(out)-params.Limit:]
	}
	return map[string]any{
		"messages":   out,
		"totalCount": total,
	}, nil
}

func (c *conn) handleUpdateVisibility(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[visibilityParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}

	sess.Router().SetVisibility(models.Visibility{
		ShowCommentary: params.ShowCommentary,
		ShowAnalysis:   params.ShowAnalysis,
	})
	return map[string]any{
		"success":   true,
		"sessionId": sess.ID(),
	}, nil
}

func (c *conn) handleChannelStats(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[sessionRefParams](raw)
	if perr != nil {
		return nil, perr
	}
	sess, serr := c.resolveSession(params.SessionID)
	if serr != nil {
		return nil, serr
	}
	return sess.Router().Stats(), nil
}

func (c *conn) asyncManager() (*workers.Manager, *rpcError) {
	if c.server.deps.Workers == nil {
		return nil, errInternal("async agents are not enabled")
	}
	return c.server.deps.Workers, nil
}

// asyncResult is the shared reply shape of the async.* methods: the
// current agent-state snapshots.
func (c *conn) asyncResult(m *workers.Manager) map[string]any {
	return map[string]any{"agents": m.States()}
}

func (c *conn) handleAsyncCreate(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[asyncAgentParams](raw)
	if perr != nil {
		return nil, perr
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}

	var cfg *models.AgentConfig
	for i := range c.server.deps.Config.Agents {
		if c.server.deps.Config.Agents[i].ID == params.AgentID {
			cfg = &c.server.deps.Config.Agents[i]
			break
		}
	}
	if cfg == nil {
		return nil, errNotFound(fmt.Sprintf("agent %s not found", params.AgentID))
	}
	if err := m.Create(c.ctx, cfg.Clone()); err != nil {
		return nil, errInternal(err.Error())
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncStart(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[asyncAgentParams](raw)
	if perr != nil {
		return nil, perr
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}
	if err := m.Start(c.ctx, params.AgentID); err != nil {
		return nil, errNotFound(err.Error())
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncStop(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[asyncAgentParams](raw)
	if perr != nil {
		return nil, perr
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}
	if err := m.Stop(c.ctx, params.AgentID); err != nil {
		return nil, errNotFound(err.Error())
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncSleep(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[asyncSleepParams](raw)
	if perr != nil {
		return nil, perr
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}

	opts := workers.SleepOptions{WakeEvents: params.WakeEvents, Cron: params.Cron}
	if params.Duration != "" {
		d, err := time.ParseDuration(params.Duration)
		if err != nil {
			return nil, errInvalidParams("invalid duration: " + err.Error())
		}
		opts.Duration = d
	}
	if err := m.Sleep(params.AgentID, opts); err != nil {
		return nil, errNotFound(err.Error())
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncWake(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[asyncAgentParams](raw)
	if perr != nil {
		return nil, perr
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}
	if err := m.Wake(params.AgentID, params.Reason); err != nil {
		return nil, errNotFound(err.Error())
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncSendTask(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[asyncTaskParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.Task == "" {
		return nil, errInvalidParams("task is required")
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}
	if err := m.SendTask(params.AgentID, params.Task); err != nil {
		return nil, errNotFound(err.Error())
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncStates() (any, *rpcError) {
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}
	return c.asyncResult(m), nil
}

func (c *conn) handleAsyncBroadcast(raw json.RawMessage) (any, *rpcError) {
	params, perr := decodeParams[broadcastParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.Event == "" {
		return nil, errInvalidParams("event is required")
	}
	m, merr := c.asyncManager()
	if merr != nil {
		return nil, merr
	}
	m.BroadcastEvent(params.Event, params.Data)
	return c.asyncResult(m), nil
}
