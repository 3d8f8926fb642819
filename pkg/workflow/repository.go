package workflow

import (
	"context"
)

// InstanceFilter selects instances. Zero fields match everything.
type InstanceFilter struct {
	TenantID     string
	DefinitionID string
	EntityType   string
	EntityID     string
	Statuses     []Status

	// Limit caps the result size; 0 means no limit.
	Limit int
}

// Matches reports whether inst satisfies the filter.
func (f InstanceFilter) Matches(inst *Instance) bool {
	if f.TenantID != "" && inst.TenantID != f.TenantID {
		return false
	}
	if f.DefinitionID != "" && inst.DefinitionID != f.DefinitionID {
		return false
	}
	if f.EntityType != "" && inst.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && inst.EntityID != f.EntityID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if inst.Status == s {
			return true
		}
	}
	return false
}

// Repository persists definitions and instances.
//
// Definitions are keyed by tenant, id and version; tenant lookups fall back
// to platform definitions (empty tenant). Instances are versioned:
// UpdateInstance stores inst only when the stored version equals
// expectedVersion and returns ErrConflict otherwise.
type Repository interface {
	// SaveDefinition stores def. Saving an identical definition again is a
	// no-op; a different one under the same key is ErrDefinitionExists.
	SaveDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, tenantID, id string, version int) (*Definition, error)
	LatestDefinition(ctx context.Context, tenantID, id string) (*Definition, error)
	// ListDefinitions returns the tenant's and the platform's definitions.
	ListDefinitions(ctx context.Context, tenantID string) ([]*Definition, error)

	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance, expectedVersion int64) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	Close() error
}
