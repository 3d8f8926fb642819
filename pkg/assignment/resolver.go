package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"mercator-hq/gatekeeper/pkg/evalctx"
)

// Strategy names the rule that produced an assignment.
type Strategy string

const (
	StrategyUser     Strategy = "user"
	StrategyPath     Strategy = "path"
	StrategyRole     Strategy = "role"
	StrategyFallback Strategy = "fallback"
)

// Descriptor prefixes.
const (
	PrefixUser = "user:"
	PrefixRole = "role:"
	PrefixPath = "path:"
)

// Assignment is a resolved target. Exactly one of Assignee or Role is the
// effective owner: a role with a single active holder resolves to that
// holder, otherwise the role is a queue worked by Candidates.
type Assignment struct {
	Assignee   string   `json:"assignee,omitempty"`
	Role       string   `json:"role,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Strategy   Strategy `json:"strategy"`
}

// IsQueue reports whether the assignment is a role queue with no single
// assignee.
func (a Assignment) IsQueue() bool {
	return a.Assignee == "" && a.Role != ""
}

// Descriptor renders the assignment back into a descriptor that resolves to
// the same owner.
func (a Assignment) Descriptor() string {
	if a.Assignee != "" {
		return PrefixUser + a.Assignee
	}
	if a.Role != "" {
		return PrefixRole + a.Role
	}
	return ""
}

func (a Assignment) String() string {
	if a.IsQueue() {
		return fmt.Sprintf("role %s (%d candidates)", a.Role, len(a.Candidates))
	}
	return a.Assignee
}

// Request is one resolution.
type Request struct {
	TenantID string
	Target   string
	Context  evalctx.Context
	// Fallback is tried with the same strategies when Target fails.
	Fallback string
}

// Resolver resolves descriptors. It is safe for concurrent use.
type Resolver struct {
	directory RoleDirectory
	logger    *slog.Logger
}

// NewResolver creates a resolver. A nil directory disables role lookups.
func NewResolver(directory RoleDirectory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		directory: directory,
		logger:    logger.With("component", "assignment.resolver"),
	}
}

// Resolve returns the first successful resolution of req.Target, then of
// req.Fallback. All strategies failing yields *UnresolvedAssignmentError.
// Directory failures are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Assignment, error) {
	var attempts []Attempt

	a, ok, err := r.resolveDescriptor(ctx, req.TenantID, req.Target, req.Context, &attempts)
	if err != nil || ok {
		return a, err
	}

	if fb := strings.TrimSpace(req.Fallback); fb != "" {
		a, ok, err = r.resolveDescriptor(ctx, req.TenantID, fb, req.Context, &attempts)
		if err != nil {
			return Assignment{}, err
		}
		if ok {
			a.Strategy = StrategyFallback
			return a, nil
		}
	}

	r.logger.DebugContext(ctx, "assignment unresolved",
		"tenant_id", req.TenantID,
		"target", req.Target,
		"attempts", len(attempts),
	)
	return Assignment{}, &UnresolvedAssignmentError{
		TenantID: req.TenantID,
		Target:   req.Target,
		Attempts: attempts,
	}
}

func (r *Resolver) resolveDescriptor(ctx context.Context, tenantID, target string, evalCtx evalctx.Context, attempts *[]Attempt) (Assignment, bool, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		*attempts = append(*attempts, Attempt{Strategy: StrategyUser, Reason: "empty descriptor"})
		return Assignment{}, false, nil
	}

	switch {
	case strings.HasPrefix(target, PrefixUser):
		user := strings.TrimSpace(strings.TrimPrefix(target, PrefixUser))
		if user == "" {
			*attempts = append(*attempts, Attempt{Strategy: StrategyUser, Value: target, Reason: "empty user"})
			return Assignment{}, false, nil
		}
		return Assignment{Assignee: user, Strategy: StrategyUser}, true, nil

	case strings.HasPrefix(target, PrefixRole):
		return r.byRole(ctx, tenantID, strings.TrimPrefix(target, PrefixRole), attempts)

	case strings.HasPrefix(target, PrefixPath):
		a, ok := byPath(evalCtx, strings.TrimPrefix(target, PrefixPath), attempts)
		return a, ok, nil

	case looksLikeEmail(target):
		return Assignment{Assignee: target, Strategy: StrategyUser}, true, nil
	}

	if a, ok := byPath(evalCtx, target, attempts); ok {
		return a, true, nil
	}
	return r.byRole(ctx, tenantID, target, attempts)
}

func byPath(evalCtx evalctx.Context, path string, attempts *[]Attempt) (Assignment, bool) {
	path = strings.TrimSpace(path)
	v, ok := evalCtx.Lookup(path)
	if !ok {
		*attempts = append(*attempts, Attempt{Strategy: StrategyPath, Value: path, Reason: "path not found"})
		return Assignment{}, false
	}

	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return Assignment{Assignee: s, Strategy: StrategyPath}, true
		}
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return Assignment{Assignee: strings.TrimSpace(s), Strategy: StrategyPath}, true
			}
		}
	}
	*attempts = append(*attempts, Attempt{Strategy: StrategyPath, Value: path, Reason: fmt.Sprintf("value %v is not a user", v)})
	return Assignment{}, false
}

func (r *Resolver) byRole(ctx context.Context, tenantID, role string, attempts *[]Attempt) (Assignment, bool, error) {
	role = strings.TrimSpace(role)
	if r.directory == nil {
		*attempts = append(*attempts, Attempt{Strategy: StrategyRole, Value: role, Reason: "no role directory"})
		return Assignment{}, false, nil
	}
	if role == "" {
		*attempts = append(*attempts, Attempt{Strategy: StrategyRole, Reason: "empty role"})
		return Assignment{}, false, nil
	}

	holders, err := r.directory.RoleHolders(ctx, tenantID, role)
	if err != nil {
		return Assignment{}, false, fmt.Errorf("role lookup %q: %w", role, err)
	}

	switch len(holders) {
	case 0:
		*attempts = append(*attempts, Attempt{Strategy: StrategyRole, Value: role, Reason: "no active holders"})
		return Assignment{}, false, nil
	case 1:
		return Assignment{Assignee: holders[0], Role: role, Candidates: []string{holders[0]}, Strategy: StrategyRole}, true, nil
	default:
		candidates := append([]string(nil), holders...)
		sort.Strings(candidates)
		return Assignment{Role: role, Candidates: candidates, Strategy: StrategyRole}, true, nil
	}
}

func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}
