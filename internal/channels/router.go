// Package channels interprets model output as channel-structured
// messages and manages per-session sequencing, history, and delivery
// visibility. Models may reply with plain text or with a JSON object
// carrying analysis, commentary, and final channels; the router
// normalizes both into ordered ChannelMessages.
package channels

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Archive mirrors emitted messages into durable storage. Implemented
// by the archive subpackage; nil disables archiving.
type Archive interface {
	Store(ctx context.Context, sessionID string, msg models.ChannelMessage) error
}

// Stats summarizes a session's channel activity.
type Stats struct {
	SessionID          string                   `json:"session_id"`
	Counts             map[models.Channel]int64 `json:"counts"`
	LastSequence       int64                    `json:"last_sequence"`
	SuppressedPartials int64                    `json:"suppressed_partials"`
}

// HistoryFilter narrows a History query. Zero value returns everything
// the current visibility preference delivers.
type HistoryFilter struct {
	// Channel restricts to one channel when non-empty.
	Channel models.Channel

	// Limit caps the result to the most recent N messages when > 0.
	Limit int

	// IncludeHidden bypasses the visibility preference.
	IncludeHidden bool
}

// Router routes one session's model output into channel messages. It
// owns the session's sequence counter, history ring, and visibility
// preference. Safe for concurrent use.
type Router struct {
	sessionID string
	cfg       config.ChannelsConfig
	logger    *observability.Logger
	metrics   *observability.Metrics
	archive   Archive

	seq atomic.Int64

	mu         sync.Mutex
	history    []models.ChannelMessage
	visibility models.Visibility
	counts     map[models.Channel]int64
	suppressed int64
}

// NewRouter creates the channel router for one session.
func NewRouter(sessionID string, cfg config.ChannelsConfig, logger *observability.Logger, metrics *observability.Metrics, archive Archive) *Router {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	return &Router{
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger.Named("channels"),
		metrics:   metrics,
		archive:   archive,
		visibility: models.Visibility{
			ShowCommentary: cfg.ShowCommentary,
			ShowAnalysis:   cfg.ShowAnalysis,
		},
		counts: make(map[models.Channel]int64),
	}
}

// channelReply is the structured shape models use when the channel
// protocol is active.
type channelReply struct {
	Analysis   string          `json:"analysis"`
	Commentary string          `json:"commentary"`
	Final      string          `json:"final"`
	Response   json.RawMessage `json:"response"`
}

// Route interprets terminal model output and emits the resulting
// channel messages in analysis, commentary, final order. Plain text
// becomes a single final message.
func (r *Router) Route(ctx context.Context, content string, meta models.ChannelMeta) []models.ChannelMessage {
	parts := splitChannels(content, 0)
	msgs := make([]models.ChannelMessage, 0, len(parts))
	for _, p := range parts {
		msgs = append(msgs, r.emit(ctx, p.channel, p.text, meta, false))
	}
	return msgs
}

// EmitPartial emits a streaming increment on the final channel. Partial
// emissions consume sequence numbers but are not archived or retained
// in history.
func (r *Router) EmitPartial(content string, meta models.ChannelMeta) models.ChannelMessage {
	meta.IsPartial = true
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	meta.SessionID = r.sessionID
	return models.ChannelMessage{
		Sequence: r.seq.Add(1),
		Channel:  models.ChannelFinal,
		Content:  content,
		Metadata: meta,
	}
}

// RecordSuppressed counts a partial chunk withheld from the client.
func (r *Router) RecordSuppressed() {
	r.mu.Lock()
	r.suppressed++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.StreamSuppressed.Inc()
	}
}

func (r *Router) emit(ctx context.Context, ch models.Channel, text string, meta models.ChannelMeta, partial bool) models.ChannelMessage {
	meta.IsPartial = partial
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	meta.SessionID = r.sessionID

	msg := models.ChannelMessage{
		Sequence: r.seq.Add(1),
		Channel:  ch,
		Content:  text,
		Metadata: meta,
	}

	r.mu.Lock()
	r.counts[ch]++
	r.history = append(r.history, msg)
	if over := len(r.history) - r.cfg.HistoryLimit; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordChannelMessage(string(ch))
	}
	if r.archive != nil {
		if err := r.archive.Store(ctx, r.sessionID, msg); err != nil {
			r.logger.Warn(ctx, "archive channel message failed", "error", err)
		}
	}
	return msg
}

// SetVisibility replaces the session's delivery preference.
func (r *Router) SetVisibility(v models.Visibility) {
	r.mu.Lock()
	r.visibility = v
	r.mu.Unlock()
}

// Visibility returns the current delivery preference.
func (r *Router) Visibility() models.Visibility {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibility
}

// Delivers reports whether a message should reach the client under the
// current preference.
func (r *Router) Delivers(msg models.ChannelMessage) bool {
	return r.Visibility().Delivers(msg.Channel)
}

// History returns retained messages, filtered by the visibility
// preference active now rather than at emission time.
func (r *Router) History(f HistoryFilter) []models.ChannelMessage {
	r.mu.Lock()
	vis := r.visibility
	all := make([]models.ChannelMessage, len(r.history))
	copy(all, r.history)
	r.mu.Unlock()

	out := make([]models.ChannelMessage, 0, len(all))
	for _, msg := range all {
		if f.Channel != "" && msg.Channel != f.Channel {
			continue
		}
		if !f.IncludeHidden && !vis.Delivers(msg.Channel) {
			continue
		}
		out = append(out, msg)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Stats reports the session's channel counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.Channel]int64, len(r.counts))
	for ch, n := range r.counts {
		counts[ch] = n
	}
	return Stats{
		SessionID:          r.sessionID,
		Counts:             counts,
		LastSequence:       r.seq.Load(),
		SuppressedPartials: r.suppressed,
	}
}

type channelPart struct {
	channel models.Channel
	text    string
}

const maxResponseNesting = 4

// splitChannels classifies model output. A JSON object with channel
// keys yields up to three parts in fixed order; a response wrapper
// routes its payload recursively; anything else is final text.
func splitChannels(content string, depth int) []channelPart {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") && depth < maxResponseNesting {
		var reply channelReply
		if err := json.Unmarshal([]byte(trimmed), &reply); err == nil {
			if reply.Analysis != "" || reply.Commentary != "" || reply.Final != "" {
				var parts []channelPart
				if reply.Analysis != "" {
					parts = append(parts, channelPart{models.ChannelAnalysis, reply.Analysis})
				}
				if reply.Commentary != "" {
					parts = append(parts, channelPart{models.ChannelCommentary, reply.Commentary})
				}
				if reply.Final != "" {
					parts = append(parts, channelPart{models.ChannelFinal, reply.Final})
				}
				return parts
			}
			if len(reply.Response) > 0 {
				var inner string
				if err := json.Unmarshal(reply.Response, &inner); err == nil {
					return splitChannels(inner, depth+1)
				}
				return splitChannels(string(reply.Response), depth+1)
			}
		}
	}

	return []channelPart{{models.ChannelFinal, trimmed}}
}
