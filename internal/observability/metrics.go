package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects runtime metrics on a private registry so multiple
// instances (tests, embedded runtimes) never collide on registration.
//
// Tracked signals:
//   - turn throughput and latency per agent
//   - model request latency, status, and token usage per provider/model
//   - tool execution counts and latency
//   - channel message flow and stream suppression
//   - continuation rounds and agent switches
//   - live session and WebSocket connection gauges
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts completed turns. Labels: agent, status (ok|error).
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures full turn latency including tool rounds.
	TurnDuration *prometheus.HistogramVec

	// ModelRequests counts model calls. Labels: provider, model, status.
	ModelRequests *prometheus.CounterVec

	// ModelDuration measures model call latency. Labels: provider, model.
	ModelDuration *prometheus.HistogramVec

	// ModelTokens counts tokens. Labels: provider, model, type (prompt|completion).
	ModelTokens *prometheus.CounterVec

	// ToolExecutions counts tool runs. Labels: tool, status (success|error).
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool latency. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// ChannelMessages counts routed emissions. Labels: channel.
	ChannelMessages *prometheus.CounterVec

	// StreamSuppressed counts partial chunks withheld from clients.
	StreamSuppressed prometheus.Counter

	// ContinuationRounds counts automatic re-entries. Labels: agent.
	ContinuationRounds *prometheus.CounterVec

	// AgentSwitches counts mail switches. Labels: status
	// (ok|depth_exceeded|circular|unknown_agent).
	AgentSwitches *prometheus.CounterVec

	// ActiveSessions gauges live sessions.
	ActiveSessions prometheus.Gauge

	// Connections gauges live WebSocket connections.
	Connections prometheus.Gauge

	// RPCRequests counts gateway requests. Labels: method, status (ok|error).
	RPCRequests *prometheus.CounterVec
}

// NewMetrics creates a metrics set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_turns_total",
			Help: "Completed turns by agent and status",
		}, []string{"agent", "status"}),

		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_turn_duration_seconds",
			Help:    "Turn latency including tool rounds and continuations",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"agent"}),

		ModelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_model_requests_total",
			Help: "Model API calls by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		ModelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_model_request_duration_seconds",
			Help:    "Model API call latency",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ModelTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_model_tokens_total",
			Help: "Token usage by provider, model, and type",
		}, []string{"provider", "model", "type"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Tool executions by name and status",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_tool_execution_duration_seconds",
			Help:    "Tool execution latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),

		ChannelMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_channel_messages_total",
			Help: "Routed channel messages by channel",
		}, []string{"channel"}),

		StreamSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_stream_suppressed_chunks_total",
			Help: "Partial chunks withheld by the channel router",
		}),

		ContinuationRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_continuation_rounds_total",
			Help: "Automatic continuation re-entries by agent",
		}, []string{"agent"}),

		AgentSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_agent_switches_total",
			Help: "Mail-triggered agent switches by outcome",
		}, []string{"status"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Currently live sessions",
		}),

		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_ws_connections",
			Help: "Currently open WebSocket connections",
		}),

		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_rpc_requests_total",
			Help: "JSON-RPC requests by method and status",
		}, []string{"method", "status"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(agent, status string, seconds float64) {
	m.TurnsTotal.WithLabelValues(agent, status).Inc()
	m.TurnDuration.WithLabelValues(agent).Observe(seconds)
}

// RecordModelRequest records a model API call.
func (m *Metrics) RecordModelRequest(provider, model, status string, seconds float64, promptTokens, completionTokens int) {
	m.ModelRequests.WithLabelValues(provider, model, status).Inc()
	m.ModelDuration.WithLabelValues(provider, model).Observe(seconds)
	if promptTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool run.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordChannelMessage records one routed emission.
func (m *Metrics) RecordChannelMessage(channel string) {
	m.ChannelMessages.WithLabelValues(channel).Inc()
}

// RecordSwitch records a mail-switch attempt outcome.
func (m *Metrics) RecordSwitch(status string) {
	m.AgentSwitches.WithLabelValues(status).Inc()
}

// RecordRPC records a gateway request outcome.
func (m *Metrics) RecordRPC(method, status string) {
	m.RPCRequests.WithLabelValues(method, status).Inc()
}
