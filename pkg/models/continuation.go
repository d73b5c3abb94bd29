package models

// ContinuationStatus is the model's declared intent about re-entry.
type ContinuationStatus string

const (
	// ContinuationContinue asks the runtime to re-invoke the agent
	// without new user input.
	ContinuationContinue ContinuationStatus = "CONTINUE"

	// ContinuationTerminate ends the turn.
	ContinuationTerminate ContinuationStatus = "TERMINATE"
)

// Continuation is the structured continuation object a model may attach
// to its reply. It is transient: derived from the most recent response
// and never persisted.
type Continuation struct {
	Status ContinuationStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
}

// ShouldContinue reports whether the model asked for another round.
func (c *Continuation) ShouldContinue() bool {
	return c != nil && c.Status == ContinuationContinue
}
