package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

// SyncResult reports one GitSource synchronization.
type SyncResult struct {
	// Commit is the checked-out head after the sync.
	Commit string
	// Changed is true when the head moved or on the first sync.
	Changed bool
	// Load is set when rules were reloaded.
	Load *LoadResult
}

// GitSource loads rules from a git repository checkout.
type GitSource struct {
	cfg      config.GitConfig
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu    sync.Mutex
	repo  *gogit.Repository
	head  string
	files *FileSource
}

// NewGitSource validates cfg and creates a source. Nothing is cloned until
// the first Sync.
func NewGitSource(cfg *config.GitConfig, registry *Registry, logger *slog.Logger, collector *metrics.Collector) (*GitSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("git config cannot be nil")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rulesDir := filepath.Join(cfg.LocalPath, filepath.FromSlash(cfg.Path))
	files := NewFileSource(rulesDir, registry, logger, collector)
	files.kind = "git"

	return &GitSource{
		cfg:      *cfg,
		registry: registry,
		logger:   logger.With("component", "rules.git", "url", cfg.URL, "branch", cfg.Branch),
		metrics:  collector,
		files:    files,
	}, nil
}

// Head returns the commit of the last successful sync.
func (g *GitSource) Head() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}

// Sync clones the repository on first use, otherwise pulls, and reloads
// the rules when the head commit changed.
func (g *GitSource) Sync(ctx context.Context) (*SyncResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	auth, err := g.auth()
	if err != nil {
		return nil, err
	}

	if g.repo == nil {
		if err := g.open(ctx, auth); err != nil {
			g.metrics.RecordRuleReload("git", "error")
			return nil, err
		}
	} else if err := g.pull(ctx, auth); err != nil {
		g.metrics.RecordRuleReload("git", "error")
		return nil, err
	}

	ref, err := g.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	commit := ref.Hash().String()

	result := &SyncResult{Commit: commit, Changed: commit != g.head}
	if !result.Changed {
		return result, nil
	}

	load, err := g.files.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules at %s: %w", shortHash(commit), err)
	}
	load.Source = fmt.Sprintf("%s@%s", g.cfg.URL, shortHash(commit))
	result.Load = load

	g.logger.Info("rules synced from git",
		"from", shortHash(g.head),
		"to", shortHash(commit),
		"rules", load.Rules,
	)
	g.head = commit
	return result, nil
}

// Poll syncs every interval until ctx is cancelled. Sync failures are
// logged and retried on the next tick.
func (g *GitSource) Poll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := g.Sync(ctx); err != nil {
				g.logger.Error("git sync failed", "error", err)
			}
		}
	}
}

func (g *GitSource) open(ctx context.Context, auth transport.AuthMethod) error {
	if _, err := os.Stat(filepath.Join(g.cfg.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(g.cfg.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing checkout: %w", err)
		}
		g.repo = repo
		return g.pull(ctx, auth)
	}

	if err := os.MkdirAll(g.cfg.LocalPath, 0o755); err != nil {
		return fmt.Errorf("failed to create checkout directory: %w", err)
	}

	opts := &gogit.CloneOptions{
		URL:          g.cfg.URL,
		Auth:         auth,
		SingleBranch: true,
	}
	if g.cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.cfg.Branch)
	}

	repo, err := gogit.PlainCloneContext(ctx, g.cfg.LocalPath, false, opts)
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	g.repo = repo
	return nil
}

func (g *GitSource) pull(ctx context.Context, auth transport.AuthMethod) error {
	worktree, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	opts := &gogit.PullOptions{RemoteName: "origin", Auth: auth}
	if g.cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.cfg.Branch)
	}
	err = worktree.PullContext(ctx, opts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull: %w", err)
	}
	return nil
}

func (g *GitSource) auth() (transport.AuthMethod, error) {
	switch {
	case g.cfg.Token != "":
		return &http.BasicAuth{Username: "git", Password: g.cfg.Token}, nil
	case g.cfg.SSHKeyPath != "":
		keys, err := ssh.NewPublicKeysFromFile("git", g.cfg.SSHKeyPath, g.cfg.SSHPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key: %w", err)
		}
		return keys, nil
	default:
		return nil, nil
	}
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
