package channels

import (
	"strconv"
	"strings"
)

type streamMode int

const (
	modeUndecided streamMode = iota
	modePassthrough
	modeStructured
	modeSuppressed
)

// Accumulator buffers streaming chunks for one turn and decides what,
// if anything, may be streamed to the client. Plain text passes
// through. Content that opens with '{' is treated as structured: raw
// JSON is never streamed, only the decoded value of its "final" field,
// incrementally as it becomes extractable. Any sign of tool-call
// structure suppresses streaming for the rest of the turn.
//
// Not safe for concurrent use; the turn loop owns one per model call.
type Accumulator struct {
	buf      strings.Builder
	mode     streamMode
	streamed int // decoded final bytes already released
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends a chunk and returns the delta that may be streamed to
// the client now. An empty delta means the chunk was withheld.
func (a *Accumulator) Add(chunk string) string {
	a.buf.WriteString(chunk)
	text := a.buf.String()

	if a.mode != modeSuppressed && strings.Contains(text, `"tool_calls"`) {
		a.mode = modeSuppressed
	}

	switch a.mode {
	case modeSuppressed:
		return ""
	case modePassthrough:
		return chunk
	}

	trimmed := strings.TrimLeft(text, " \t\r\n")
	if trimmed == "" {
		return ""
	}
	if a.mode == modeUndecided {
		if strings.HasPrefix(trimmed, "{") {
			a.mode = modeStructured
		} else {
			a.mode = modePassthrough
			return text
		}
	}

	decoded := extractFinal(trimmed)
	if len(decoded) <= a.streamed {
		return ""
	}
	delta := decoded[a.streamed:]
	a.streamed = len(decoded)
	return delta
}

// Suppressed reports whether streaming is fully suppressed for this
// turn because tool-call structure appeared.
func (a *Accumulator) Suppressed() bool {
	return a.mode == modeSuppressed
}

// Text returns everything accumulated so far.
func (a *Accumulator) Text() string {
	return a.buf.String()
}

// extractFinal returns the decoded value of the "final" field as far
// as the (possibly truncated) JSON text allows. Incomplete escape
// sequences at the end of the buffer are held back.
func extractFinal(s string) string {
	idx := strings.Index(s, `"final"`)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(`"final"`):]
	rest = strings.TrimLeft(rest, " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return ""
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return ""
	}
	rest = rest[1:]

	var b strings.Builder
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '"' {
			break
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(rest) {
			break // escape split across chunks
		}
		i++
		switch rest[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '"', '\\', '/':
			b.WriteByte(rest[i])
		case 'u':
			if i+4 >= len(rest) {
				return b.String() // incomplete \uXXXX
			}
			n, err := strconv.ParseUint(rest[i+1:i+5], 16, 32)
			if err == nil {
				b.WriteRune(rune(n))
			}
			i += 4
		default:
			b.WriteByte(rest[i])
		}
	}
	return b.String()
}
