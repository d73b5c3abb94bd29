// Package structured defines the JSON reply shapes models are asked to
// produce, generates their JSON schemas, and parses model replies back
// into them. Three shapes exist: the channel reply, the continuation
// wrapper, and the plan reply used by planner agents.
package structured

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/parley/pkg/models"
)

// Kind selects which reply shape a turn is constrained to.
type Kind int

const (
	KindNone Kind = iota
	KindPlan
	KindChannel
	KindContinuation
)

func (k Kind) String() string {
	switch k {
	case KindPlan:
		return "plan"
	case KindChannel:
		return "channel"
	case KindContinuation:
		return "continuation"
	default:
		return "none"
	}
}

// ChannelReply is the channel-protocol reply shape.
type ChannelReply struct {
	Analysis     string               `json:"analysis,omitempty" jsonschema:"description=Private reasoning, hidden from the user by default"`
	Commentary   string               `json:"commentary,omitempty" jsonschema:"description=Narration of tool use and progress"`
	Final        string               `json:"final" jsonschema:"description=The user-visible answer"`
	Continuation *models.Continuation `json:"continuation,omitempty"`
}

// ContinuationReply wraps a plain response with a continuation object.
type ContinuationReply struct {
	Response     string               `json:"response" jsonschema:"description=The user-visible answer"`
	Continuation *models.Continuation `json:"continuation,omitempty"`
}

// PlanStep is one step of a generated plan.
type PlanStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tools       []string `json:"tools,omitempty" jsonschema:"description=Tool names this step expects to use"`
}

// PlanReply is the planner agent's reply shape.
type PlanReply struct {
	Goal         string               `json:"goal"`
	Steps        []PlanStep           `json:"steps"`
	Summary      string               `json:"summary,omitempty"`
	Continuation *models.Continuation `json:"continuation,omitempty"`
}

var (
	schemaOnce sync.Once
	schemas    map[Kind]json.RawMessage
	schemaErr  error
)

// Schema returns the JSON schema for a reply kind. Schemas are
// reflected once and cached for the process lifetime.
func Schema(kind Kind) (json.RawMessage, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			Anonymous:      true,
		}
		schemas = make(map[Kind]json.RawMessage, 3)
		for kind, v := range map[Kind]any{
			KindChannel:      &ChannelReply{},
			KindContinuation: &ContinuationReply{},
			KindPlan:         &PlanReply{},
		} {
			data, err := json.Marshal(r.Reflect(v))
			if err != nil {
				schemaErr = err
				return
			}
			schemas[kind] = data
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return schemas[kind], nil
}
