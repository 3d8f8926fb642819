package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/rules/ast"
	"mercator-hq/gatekeeper/pkg/rules/parser"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

// LoadResult summarizes one load of a rule source.
type LoadResult struct {
	// Source identifies what was loaded: a path, or a commit for git.
	Source string
	Files  int
	Rules  int
	// Invalid lists rules that failed to compile.
	Invalid []*ast.Rule
	// Failed maps documents that could not be parsed to their error. Their
	// last good rules stay active.
	Failed map[string]error
}

// FileSource loads rules from a YAML file or a directory of YAML files.
type FileSource struct {
	path     string
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Collector
	kind     string

	mu       sync.Mutex
	lastGood map[string]*parser.RuleSet
}

// NewFileSource creates a file-based source publishing into registry. The
// path can be either a single file or a directory; directories are walked
// for .yaml and .yml files, skipping hidden entries.
func NewFileSource(path string, registry *Registry, logger *slog.Logger, collector *metrics.Collector) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:     path,
		registry: registry,
		logger:   logger.With("component", "rules.source", "path", path),
		metrics:  collector,
		kind:     "file",
		lastGood: make(map[string]*parser.RuleSet),
	}
}

// Path returns the configured path.
func (s *FileSource) Path() string {
	return s.path
}

// Load reads every rule document and publishes the result to the registry.
// It fails only when the path itself cannot be read.
func (s *FileSource) Load(ctx context.Context) (*LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.files()
	if err != nil {
		s.metrics.RecordRuleReload(s.kind, "error")
		return nil, err
	}

	result := &LoadResult{Source: s.path, Files: len(files), Failed: make(map[string]error)}
	seen := make(map[string]bool, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[file] = true

		set, err := parser.ParseFile(file)
		if err != nil {
			result.Failed[file] = err
			s.logger.Warn("failed to load rule file, keeping previous rules",
				"file", file,
				"error", err,
			)
			continue
		}
		s.lastGood[file] = set
	}
	for file := range s.lastGood {
		if !seen[file] {
			delete(s.lastGood, file)
		}
	}

	// Sequences restart in every file. Offsetting each file by the
	// sequences used before it keeps creation order running across files
	// in path order.
	sets := make(map[string][]*ast.Rule)
	var base int64
	for _, file := range sortedKeys(s.lastGood) {
		set := s.lastGood[file]
		var last int64
		for _, parsed := range set.Rules {
			rule := *parsed
			rule.Sequence += base
			last = max(last, parsed.Sequence)
			sets[rule.TenantID] = append(sets[rule.TenantID], &rule)
			result.Rules++
			if !rule.Valid() {
				result.Invalid = append(result.Invalid, &rule)
			}
		}
		base += last
	}
	s.registry.ReplaceAll(sets)

	status := "success"
	if len(result.Failed) > 0 {
		status = "partial"
	}
	s.metrics.RecordRuleReload(s.kind, status)
	s.logger.Info("loaded rules",
		"files", result.Files,
		"rules", result.Rules,
		"invalid", len(result.Invalid),
		"failed_files", len(result.Failed),
	)
	return result, nil
}

// Watch reloads the rules whenever a rule file changes. It blocks until ctx
// is cancelled. Reload failures are logged.
func (s *FileSource) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := NewFileWatcher(&FileWatcherConfig{
		Path:             s.path,
		DebounceInterval: debounce,
		Extensions:       []string{".yaml", ".yml"},
		SkipHidden:       true,
	}, s.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	return watcher.Watch(ctx, func() error {
		_, err := s.Load(ctx)
		return err
	})
}

// files lists the rule documents under the configured path in sorted order.
func (s *FileSource) files() ([]string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rules path %q: %w", s.path, err)
	}
	if !info.IsDir() {
		return []string{s.path}, nil
	}

	var files []string
	err = filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != s.path && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isRuleFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk rules directory %q: %w", s.path, err)
	}
	sort.Strings(files)
	return files, nil
}

func isRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func sortedKeys(m map[string]*parser.RuleSet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
