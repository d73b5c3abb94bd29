// Package prompts resolves and assembles agent system prompts from
// layered asset directories. A prompt is addressed by (category, name)
// and built from a base file, shared protocol components, an optional
// tool-instructions block, and any active debug sections.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
)

// ErrPromptNotFound reports that no file exists for a (category, name)
// pair at any search location.
var ErrPromptNotFound = errors.New("prompt not found")

// NotFoundError carries the prompt address that failed to resolve.
type NotFoundError struct {
	Category string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("prompt not found: %s/%s", e.Category, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrPromptNotFound }

const (
	promptExt       = ".md"
	defaultBasename = "_default"
	componentsDir   = "components"
)

// markerRe matches {{{key}}} substitution markers.
var markerRe = regexp.MustCompile(`\{\{\{([A-Za-z0-9_.-]+)\}\}\}`)

// AssembleOptions customizes a single assembly.
type AssembleOptions struct {
	// ToolInstructions is the block produced by the tool registry for
	// the agent's tool view. Empty means no block.
	ToolInstructions string

	// Vars supplies values for {{{key}}} markers. Markers with no
	// entry stay verbatim.
	Vars map[string]string
}

// Assembler resolves prompt assets and builds system prompts. It caches
// file contents and, when watching is enabled, invalidates the cache on
// filesystem changes so edits land on the next turn.
type Assembler struct {
	cfg    config.PromptsConfig
	logger *observability.Logger

	mu    sync.RWMutex
	cache map[string]promptEntry // path -> file contents
	debug map[string]bool   // active debug options

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewAssembler creates an assembler over the configured search dirs.
func NewAssembler(cfg config.PromptsConfig, logger *observability.Logger) *Assembler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Assembler{
		cfg:    cfg,
		logger: logger.Named("prompts"),
		cache:  make(map[string]promptEntry),
		debug:  make(map[string]bool),
	}
}

// searchDirs returns the resolution order, highest priority first.
func (a *Assembler) searchDirs() []string {
	var dirs []string
	for _, d := range []string{a.cfg.ProjectOverrideDir, a.cfg.ProjectDir, a.cfg.AppDir} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Resolve returns the raw base text for (category, name). The first
// matching file wins: project override dir, project dir, app dir, then
// the category's _default file in the same order.
func (a *Assembler) Resolve(category, name string) (string, error) {
	dirs := a.searchDirs()
	for _, dir := range dirs {
		if text, ok := a.readCached(filepath.Join(dir, category, name+promptExt)); ok {
			return text, nil
		}
	}
	for _, dir := range dirs {
		if text, ok := a.readCached(filepath.Join(dir, category, defaultBasename+promptExt)); ok {
			return text, nil
		}
	}
	return "", &NotFoundError{Category: category, Name: name}
}

// Assemble builds the final system prompt for (category, name):
// base text, shared components in sorted-name order, the tool
// instructions block, then active debug sections. Substitution runs
// over the concatenated result.
func (a *Assembler) Assemble(category, name string, opts AssembleOptions) (string, error) {
	base, err := a.Resolve(category, name)
	if err != nil {
		return "", err
	}

	parts := []string{strings.TrimRight(base, "\n")}

	components := append([]string(nil), a.cfg.Components...)
	sort.Strings(components)
	for _, comp := range components {
		text, err := a.Resolve(componentsDir, comp)
		if err != nil {
			a.logger.Warn(context.Background(), "prompt component missing",
				"component", comp)
			continue
		}
		parts = append(parts, strings.TrimRight(text, "\n"))
	}

	if opts.ToolInstructions != "" {
		parts = append(parts, strings.TrimRight(opts.ToolInstructions, "\n"))
	}

	for _, opt := range a.ActiveDebugOptions() {
		if section := debugSections[opt]; section != "" {
			parts = append(parts, section)
		}
	}

	return Substitute(strings.Join(parts, "\n\n"), opts.Vars), nil
}

// Substitute replaces {{{key}}} markers with values from vars. Markers
// with no value are left verbatim.
func Substitute(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "{{{") {
		return text
	}
	return markerRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[3 : len(m)-3]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// promptEntry distinguishes a missing file from a present-but-empty
// one; both are cached until a watcher event invalidates.
type promptEntry struct {
	text  string
	found bool
}

func (a *Assembler) readCached(path string) (string, bool) {
	a.mu.RLock()
	entry, ok := a.cache[path]
	a.mu.RUnlock()
	if ok {
		return entry.text, entry.found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Negative entries are cached too; the watcher clears them
		// when the directory changes.
		a.mu.Lock()
		a.cache[path] = promptEntry{}
		a.mu.Unlock()
		return "", false
	}

	entry = promptEntry{text: string(data), found: true}
	a.mu.Lock()
	a.cache[path] = entry
	a.mu.Unlock()
	return entry.text, true
}

// Invalidate drops the file cache. The next Resolve re-reads from disk.
func (a *Assembler) Invalidate() {
	a.mu.Lock()
	a.cache = make(map[string]promptEntry)
	a.mu.Unlock()
}

// StartWatching begins watching the search dirs for changes when the
// config enables it. Events debounce into a cache invalidation.
func (a *Assembler) StartWatching(ctx context.Context) error {
	if !a.cfg.Watch {
		return nil
	}

	a.watchMu.Lock()
	if a.watcher != nil {
		a.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.watchMu.Unlock()
		return err
	}
	a.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchMu.Unlock()

	for _, dir := range a.searchDirs() {
		a.addWatchTree(watcher, dir)
	}

	a.watchWg.Add(1)
	go a.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if any.
func (a *Assembler) Close() error {
	a.watchMu.Lock()
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	watcher := a.watcher
	a.watcher = nil
	a.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	a.watchWg.Wait()
	return nil
}

func (a *Assembler) addWatchTree(watcher *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			a.logger.Warn(context.Background(), "watch prompt dir failed",
				"dir", path, "error", err)
		}
		return nil
	})
}

func (a *Assembler) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer a.watchWg.Done()

	const debounce = 250 * time.Millisecond
	var mu sync.Mutex
	var timer *time.Timer
	scheduleInvalidate := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			a.Invalidate()
			a.logger.Debug(context.Background(), "prompt cache invalidated")
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				scheduleInvalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn(context.Background(), "prompt watch error", "error", err)
		}
	}
}

// GenericPrompt is the fallback persona used when an agent's configured
// prompt cannot be resolved.
func GenericPrompt(name, role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a helpful AI assistant.", name)
	if role != "" {
		fmt.Fprintf(&b, " Your role: %s.", role)
	}
	b.WriteString(" Answer the user directly and use the available tools when they help.")
	return b.String()
}
