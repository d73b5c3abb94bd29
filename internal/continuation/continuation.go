// Package continuation implements the depth-bounded re-entry policy:
// a model may declare CONTINUE in its structured reply and be invoked
// again without new user input, up to a per-session depth limit.
package continuation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// DefaultMaxDepth bounds continuation rounds when config gives none.
const DefaultMaxDepth = 3

// Decision is the controller's verdict for one completed turn.
type Decision struct {
	// Continue asks the caller to re-enter the loop on the same agent.
	Continue bool

	// Prompt is the synthesized user message for the next round.
	Prompt string

	// Iteration is the round about to run (1-based), Max the limit.
	// Meaningful only when Continue is true.
	Iteration int
	Max       int
}

// Controller tracks continuation depth per session and decides
// re-entry. Depth survives agent switches; only turn completion or a
// fresh user turn resets it.
type Controller struct {
	maxDepth int
	timeout  time.Duration
	logger   *observability.Logger

	mu    sync.Mutex
	depth map[string]int
}

// NewController builds a controller from config.
func NewController(cfg config.ContinuationConfig, logger *observability.Logger) *Controller {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Controller{
		maxDepth: maxDepth,
		timeout:  cfg.Timeout,
		logger:   logger.Named("continuation"),
		depth:    make(map[string]int),
	}
}

// Decide inspects a completed turn and either grants another round or
// resets the session's depth. An error finish whose text still shows
// ongoing intent counts as CONTINUE; some providers lose the
// structured reply mid-stream.
func (c *Controller) Decide(ctx context.Context, sessionID string, cont *models.Continuation, finishedWithError bool, text string) Decision {
	wants := cont.ShouldContinue()
	if !wants && finishedWithError && ShowsOngoingIntent(text) {
		c.logger.Debug(ctx, "treating error finish as continue", "session_id", sessionID)
		wants = true
		cont = &models.Continuation{Status: models.ContinuationContinue}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !wants || c.depth[sessionID] >= c.maxDepth {
		delete(c.depth, sessionID)
		return Decision{}
	}

	c.depth[sessionID]++
	return Decision{
		Continue:  true,
		Prompt:    synthesizePrompt(cont),
		Iteration: c.depth[sessionID],
		Max:       c.maxDepth,
	}
}

// Reset clears a session's depth, on a fresh user turn or teardown.
func (c *Controller) Reset(sessionID string) {
	c.mu.Lock()
	delete(c.depth, sessionID)
	c.mu.Unlock()
}

// SetDepth restores a session's depth, used when a switch frame pops.
func (c *Controller) SetDepth(sessionID string, depth int) {
	c.mu.Lock()
	if depth <= 0 {
		delete(c.depth, sessionID)
	} else {
		c.depth[sessionID] = depth
	}
	c.mu.Unlock()
}

// Depth returns the session's current continuation depth.
func (c *Controller) Depth(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth[sessionID]
}

// MaxDepth returns the configured depth limit.
func (c *Controller) MaxDepth() int { return c.maxDepth }

// Timeout returns the per-round timeout, zero when unbounded.
func (c *Controller) Timeout() time.Duration { return c.timeout }

func synthesizePrompt(cont *models.Continuation) string {
	if cont != nil && strings.TrimSpace(cont.Reason) != "" {
		return fmt.Sprintf("Continue: %s", strings.TrimSpace(cont.Reason))
	}
	return "Please continue"
}

// intentMarkers flag text that reads as unfinished work.
var intentMarkers = []string{"i will", "i'll", "need to"}

// ShowsOngoingIntent reports whether reply text indicates the model
// meant to keep working.
func ShowsOngoingIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range intentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
