package structured

import (
	"regexp"

	"github.com/haasonsaas/parley/pkg/models"
)

// ProviderCaps describes what a provider's structured-output support
// can do. Some providers cannot combine tool calling with a response
// schema; for those the schema is skipped unless the agent is toolless.
type ProviderCaps struct {
	StructuredOutput    bool
	ToolsWithStructured bool
}

// planIndicators match user messages that should trigger the plan
// schema on a planner agent.
var planIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^/plan\b`),
	regexp.MustCompile(`(?i)\b(create|generate|make|draft|write)\b[^.?!]*\bplan\b`),
	regexp.MustCompile(`(?i)\bplan\s+(out|for)\b`),
	regexp.MustCompile(`(?i)\bbreak\s+(this|it|that)?\s*down\b`),
	regexp.MustCompile(`(?i)\broadmap\b`),
}

// SelectInput is everything the selection policy looks at for one turn.
type SelectInput struct {
	Agent           *models.AgentConfig
	Message         string
	ChannelsEnabled bool
	Caps            ProviderCaps
	HasTools        bool
}

// Select picks the reply schema for a turn. Priority: plan schema for
// matching planner turns, channel schema when the channel protocol is
// on, continuation wrapper otherwise. All three require structured
// output support, and the tool-quirk guard applies throughout.
func Select(in SelectInput) Kind {
	if !in.Caps.StructuredOutput {
		return KindNone
	}
	if in.HasTools && !in.Caps.ToolsWithStructured {
		return KindNone
	}
	if in.Agent != nil && in.Agent.Planner && matchesPlanIndicator(in.Message) {
		return KindPlan
	}
	if in.ChannelsEnabled {
		return KindChannel
	}
	return KindContinuation
}

func matchesPlanIndicator(message string) bool {
	for _, re := range planIndicators {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
