package session

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/parley/internal/tools/builtin"
)

// fileRefPattern matches @path and @path:start-end references inside
// user messages. Paths are workspace-relative.
var fileRefPattern = regexp.MustCompile(`@([\w./\-]+?)(?::(\d+)-(\d+))?(?:\s|$)`)

const maxSplicedBytes = 64 * 1024

// spliceFileRefs replaces @path references with inline content blocks.
// References that do not resolve to a readable workspace file stay
// literal. The boolean reports whether anything was spliced.
func (s *Session) spliceFileRefs(message string) (string, bool) {
	if !strings.Contains(message, "@") {
		return message, false
	}
	root := s.deps.Config.Workspace.Root
	if root == "" {
		return message, false
	}

	changed := false
	out := fileRefPattern.ReplaceAllStringFunc(message, func(match string) string {
		groups := fileRefPattern.FindStringSubmatch(match)
		rel := groups[1]
		suffix := ""
		if strings.HasSuffix(match, " ") || strings.HasSuffix(match, "\n") || strings.HasSuffix(match, "\t") {
			suffix = match[len(match)-1:]
		}

		content, ok := readRef(root, rel, groups[2], groups[3])
		if !ok {
			return match
		}
		changed = true
		header := rel
		if groups[2] != "" {
			header = fmt.Sprintf("%s:%s-%s", rel, groups[2], groups[3])
		}
		return fmt.Sprintf("\n```%s\n%s\n```\n%s", header, content, suffix)
	})
	return out, changed
}

func readRef(root, rel, startStr, endStr string) (string, bool) {
	full, err := builtin.ResolveWorkspacePath(root, rel)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(full)
	if err != nil || len(data) > maxSplicedBytes {
		return "", false
	}
	content := strings.TrimRight(string(data), "\n")
	if startStr == "" {
		return content, true
	}

	start, err1 := strconv.Atoi(startStr)
	end, err2 := strconv.Atoi(endStr)
	if err1 != nil || err2 != nil || start < 1 || end < start {
		return "", false
	}
	lines := strings.Split(content, "\n")
	if start > len(lines) {
		return "", false
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n"), true
}
