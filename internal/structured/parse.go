package structured

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/pkg/models"
)

// Parsed is a model reply decoded as far as it will go. Text is always
// populated: the extracted user-visible string for structured replies,
// the raw reply otherwise.
type Parsed struct {
	// Text is what the user should see (channel final, wrapper
	// response, or the raw reply).
	Text string

	// Raw is the unmodified reply.
	Raw string

	// Continuation is the continuation object, when present.
	Continuation *models.Continuation

	// Plan is populated for plan-shaped replies.
	Plan *PlanReply

	// Structured reports whether the reply parsed as one of the known
	// shapes.
	Structured bool
}

// reply is the union of all structured shapes.
type reply struct {
	Analysis     string               `json:"analysis"`
	Commentary   string               `json:"commentary"`
	Final        string               `json:"final"`
	Response     json.RawMessage      `json:"response"`
	Goal         string               `json:"goal"`
	Steps        []PlanStep           `json:"steps"`
	Summary      string               `json:"summary"`
	Continuation *models.Continuation `json:"continuation"`
}

// ParseReply decodes a terminal model reply. Parse failures are not
// errors: the raw string routes as plain text.
func ParseReply(raw string) Parsed {
	out := Parsed{Text: raw, Raw: raw}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return out
	}

	var r reply
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return out
	}

	switch {
	case len(r.Steps) > 0 || r.Goal != "":
		out.Structured = true
		out.Plan = &PlanReply{
			Goal:         r.Goal,
			Steps:        r.Steps,
			Summary:      r.Summary,
			Continuation: r.Continuation,
		}
		out.Text = renderPlan(out.Plan)
	case r.Final != "" || r.Analysis != "" || r.Commentary != "":
		out.Structured = true
		out.Text = r.Final
	case len(r.Response) > 0:
		out.Structured = true
		var inner string
		if err := json.Unmarshal(r.Response, &inner); err == nil {
			out.Text = inner
		} else {
			out.Text = string(r.Response)
		}
	default:
		return out
	}

	out.Continuation = r.Continuation
	return out
}

// renderPlan formats a plan reply as markdown for display.
func renderPlan(p *PlanReply) string {
	var b strings.Builder
	if p.Goal != "" {
		fmt.Fprintf(&b, "## Plan: %s\n\n", p.Goal)
	}
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "%d. **%s**", i+1, step.Title)
		if step.Description != "" {
			fmt.Fprintf(&b, " - %s", step.Description)
		}
		if len(step.Tools) > 0 {
			fmt.Fprintf(&b, " (tools: %s)", strings.Join(step.Tools, ", "))
		}
		b.WriteString("\n")
	}
	if p.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
