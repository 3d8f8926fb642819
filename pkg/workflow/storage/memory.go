package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/gatekeeper/pkg/workflow"
)

type definitionKey struct {
	tenantID string
	id       string
	version  int
}

// MemoryRepository keeps definitions and instances in memory. Instances
// are copied on every read and write.
type MemoryRepository struct {
	mu          sync.RWMutex
	definitions map[definitionKey]*workflow.Definition
	instances   map[string]*workflow.Instance
}

var _ workflow.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		definitions: make(map[definitionKey]*workflow.Definition),
		instances:   make(map[string]*workflow.Instance),
	}
}

func (r *MemoryRepository) SaveDefinition(ctx context.Context, def *workflow.Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := definitionKey{def.TenantID(), def.ID(), def.Version()}
	if existing, ok := r.definitions[key]; ok {
		if existing.Fingerprint() == def.Fingerprint() {
			return nil
		}
		return fmt.Errorf("%w: %s v%d", workflow.ErrDefinitionExists, def.ID(), def.Version())
	}
	r.definitions[key] = def
	return nil
}

func (r *MemoryRepository) GetDefinition(ctx context.Context, tenantID, id string, version int) (*workflow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tenant := range lookupTenants(tenantID) {
		if def, ok := r.definitions[definitionKey{tenant, id, version}]; ok {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: definition %s v%d", workflow.ErrNotFound, id, version)
}

func (r *MemoryRepository) LatestDefinition(ctx context.Context, tenantID, id string) (*workflow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tenant := range lookupTenants(tenantID) {
		var latest *workflow.Definition
		for key, def := range r.definitions {
			if key.tenantID == tenant && key.id == id && (latest == nil || key.version > latest.Version()) {
				latest = def
			}
		}
		if latest != nil {
			return latest, nil
		}
	}
	return nil, fmt.Errorf("%w: definition %s", workflow.ErrNotFound, id)
}

func (r *MemoryRepository) ListDefinitions(ctx context.Context, tenantID string) ([]*workflow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []*workflow.Definition
	for key, def := range r.definitions {
		if key.tenantID == tenantID || key.tenantID == "" {
			defs = append(defs, def)
		}
	}
	sortDefinitions(defs)
	return defs, nil
}

func (r *MemoryRepository) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *MemoryRepository) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", workflow.ErrNotFound, id)
	}
	return inst.Clone(), nil
}

func (r *MemoryRepository) UpdateInstance(ctx context.Context, inst *workflow.Instance, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", workflow.ErrNotFound, inst.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: instance %s is at version %d, expected %d", workflow.ErrConflict, inst.ID, current.Version, expectedVersion)
	}
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *MemoryRepository) ListInstances(ctx context.Context, filter workflow.InstanceFilter) ([]*workflow.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*workflow.Instance
	for _, inst := range r.instances {
		if filter.Matches(inst) {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

// lookupTenants is the tenant search order: the tenant itself, then the
// platform.
func lookupTenants(tenantID string) []string {
	if tenantID == "" {
		return []string{""}
	}
	return []string{tenantID, ""}
}

func sortDefinitions(defs []*workflow.Definition) {
	sort.Slice(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.TenantID() != b.TenantID() {
			return a.TenantID() < b.TenantID()
		}
		if a.ID() != b.ID() {
			return a.ID() < b.ID()
		}
		return a.Version() < b.Version()
	})
}
