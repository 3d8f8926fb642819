package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/rules/ast"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

// PlatformTenant is the registry key of platform-wide rules.
const PlatformTenant = ""

// Registry is a thread-safe, copy-on-write store of compiled rules keyed by
// tenant. Published slices are never mutated.
type Registry struct {
	mu       sync.RWMutex
	sets     map[string][]*ast.Rule
	version  int64
	loadTime time.Time

	metrics *metrics.Collector
}

// NewRegistry creates an empty registry. collector may be nil.
func NewRegistry(collector *metrics.Collector) *Registry {
	return &Registry{
		sets:     make(map[string][]*ast.Rule),
		loadTime: time.Now(),
		metrics:  collector,
	}
}

// LoadRules returns the tenant's rules followed by platform-wide rules.
func (r *Registry) LoadRules(ctx context.Context, tenantID string) ([]*ast.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	tenant := r.sets[tenantID]
	var platform []*ast.Rule
	if tenantID != PlatformTenant {
		platform = r.sets[PlatformTenant]
	}
	r.mu.RUnlock()

	out := make([]*ast.Rule, 0, len(tenant)+len(platform))
	out = append(out, tenant...)
	out = append(out, platform...)
	return out, nil
}

// Replace swaps the rule set of one tenant. A nil or empty slice removes it.
func (r *Registry) Replace(tenantID string, rules []*ast.Rule) {
	snapshot := append([]*ast.Rule(nil), rules...)

	r.mu.Lock()
	next := make(map[string][]*ast.Rule, len(r.sets)+1)
	for k, v := range r.sets {
		next[k] = v
	}
	if len(snapshot) == 0 {
		delete(next, tenantID)
	} else {
		next[tenantID] = snapshot
	}
	r.publish(next)
	r.mu.Unlock()

	r.metrics.SetActiveRules(tenantID, len(snapshot))
}

// ReplaceAll swaps every tenant's rule set at once. Tenants missing from
// sets are removed.
func (r *Registry) ReplaceAll(sets map[string][]*ast.Rule) {
	next := make(map[string][]*ast.Rule, len(sets))
	for tenant, rules := range sets {
		if len(rules) > 0 {
			next[tenant] = append([]*ast.Rule(nil), rules...)
		}
	}

	r.mu.Lock()
	previous := r.sets
	r.publish(next)
	r.mu.Unlock()

	for tenant := range previous {
		if _, ok := next[tenant]; !ok {
			r.metrics.SetActiveRules(tenant, 0)
		}
	}
	for tenant, rules := range next {
		r.metrics.SetActiveRules(tenant, len(rules))
	}
}

// Upsert adds a rule or replaces the tenant's rule with the same ID. A rule
// without a sequence keeps the sequence of the rule it replaces, or is
// ordered after every stored rule.
func (r *Registry) Upsert(rule *ast.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("rule must have an id")
	}

	r.mu.Lock()
	current := r.sets[rule.TenantID]
	if rule.Sequence == 0 {
		cp := *rule
		cp.Sequence = r.nextSequence(rule.TenantID, rule.ID)
		rule = &cp
	}
	updated := make([]*ast.Rule, 0, len(current)+1)
	replaced := false
	for _, existing := range current {
		if existing.ID == rule.ID {
			updated = append(updated, rule)
			replaced = true
			continue
		}
		updated = append(updated, existing)
	}
	if !replaced {
		updated = append(updated, rule)
	}
	next := make(map[string][]*ast.Rule, len(r.sets)+1)
	for k, v := range r.sets {
		next[k] = v
	}
	next[rule.TenantID] = updated
	r.publish(next)
	r.mu.Unlock()

	r.metrics.SetActiveRules(rule.TenantID, len(updated))
	return nil
}

// nextSequence returns the sequence for a rule stored without one. The
// caller holds r.mu.
func (r *Registry) nextSequence(tenantID, id string) int64 {
	var highest int64
	for tenant, rules := range r.sets {
		for _, existing := range rules {
			if tenant == tenantID && existing.ID == id {
				return existing.Sequence
			}
			highest = max(highest, existing.Sequence)
		}
	}
	return highest + 1
}

// Remove deletes a tenant's rule by ID and reports whether it existed.
func (r *Registry) Remove(tenantID, ruleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.sets[tenantID]
	updated := make([]*ast.Rule, 0, len(current))
	for _, existing := range current {
		if existing.ID != ruleID {
			updated = append(updated, existing)
		}
	}
	if len(updated) == len(current) {
		return false
	}

	next := make(map[string][]*ast.Rule, len(r.sets))
	for k, v := range r.sets {
		next[k] = v
	}
	if len(updated) == 0 {
		delete(next, tenantID)
	} else {
		next[tenantID] = updated
	}
	r.publish(next)
	return true
}

// Tenants returns the tenants that have rules, sorted. The platform tenant
// is included as "" when platform rules exist.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sets))
	for tenant := range r.sets {
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of rules across tenants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rules := range r.sets {
		n += len(rules)
	}
	return n
}

// Version increments on every change.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// LoadTime returns when the registry last changed.
func (r *Registry) LoadTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadTime
}

// publish must be called with mu held.
func (r *Registry) publish(next map[string][]*ast.Rule) {
	r.sets = next
	r.version++
	r.loadTime = time.Now()
}
