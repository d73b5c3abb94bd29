package prompts

import (
	"fmt"
	"sort"
)

// Debug options that splice extra instruction sections into assembled
// prompts. Toggled at runtime via the /debug session command.
const (
	DebugSingleTool           = "single_tool"
	DebugVerboseProgress      = "verbose_progress"
	DebugForceSequential      = "force_sequential"
	DebugExplicitContinuation = "explicit_continuation"
)

var debugSections = map[string]string{
	DebugSingleTool: "## Debug: Single Tool\n" +
		"Call at most one tool per response. If more work remains after the tool result, describe the next step instead of calling another tool.",
	DebugVerboseProgress: "## Debug: Verbose Progress\n" +
		"Before each tool call, state in the commentary channel which tool you are about to use and why.",
	DebugForceSequential: "## Debug: Force Sequential\n" +
		"Never request multiple tool calls in a single response. Complete and observe each tool before deciding on the next.",
	DebugExplicitContinuation: "## Debug: Explicit Continuation\n" +
		"Always include a continuation object in your structured reply. Set status to CONTINUE only when you have concrete remaining work, and name it in reason.",
}

// DebugOptions lists the known option names in sorted order.
func DebugOptions() []string {
	names := make([]string, 0, len(debugSections))
	for name := range debugSections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDebugOption toggles a debug option. Unknown names are an error.
func (a *Assembler) SetDebugOption(name string, on bool) error {
	if _, ok := debugSections[name]; !ok {
		return fmt.Errorf("unknown debug option: %s", name)
	}
	a.mu.Lock()
	if on {
		a.debug[name] = true
	} else {
		delete(a.debug, name)
	}
	a.mu.Unlock()
	return nil
}

// SetAllDebugOptions toggles every known option at once (/debug on, /debug off).
func (a *Assembler) SetAllDebugOptions(on bool) {
	a.mu.Lock()
	if on {
		for name := range debugSections {
			a.debug[name] = true
		}
	} else {
		a.debug = make(map[string]bool)
	}
	a.mu.Unlock()
}

// ActiveDebugOptions returns the enabled option names in sorted order.
func (a *Assembler) ActiveDebugOptions() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.debug))
	for name := range a.debug {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)
	return names
}
